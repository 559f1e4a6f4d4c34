package wireguard

import (
	"fmt"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// GenerateKeypair creates a fresh Curve25519 device keypair and returns both
// keys base64-encoded, ready for lease requests and tunnel configuration.
func GenerateKeypair() (privateKey, publicKey string, err error) {
	priv, errGen := wgtypes.GeneratePrivateKey()
	if errGen != nil {
		return "", "", fmt.Errorf("wireguard: generate private key: %w", errGen)
	}
	return priv.String(), priv.PublicKey().String(), nil
}
