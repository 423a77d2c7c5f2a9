package main

import (
	"fmt"
	"os"

	"github.com/openclaw/auth-broker-go/internal/util"
)

func main() {
	cipher := util.CipherAESGCM
	if len(os.Args) > 1 {
		cipher = os.Args[1]
	}

	key, err := util.GenerateToken()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if _, err := util.NewVault(key, cipher); err != nil {
		fmt.Fprintf(os.Stderr, "Usage: go run scripts/gen-key.go [%s|%s]\nError: %v\n",
			util.CipherAESGCM, util.CipherXChaCha20Poly1305, err)
		os.Exit(1)
	}

	fmt.Printf("ENCRYPTION_KEY=%s\nENCRYPTION_CIPHER=%s\n", key, cipher)
}
