//go:build ignore

// Command generate-key prints a random secret suitable for
// SHOPDESK_JWT_SECRET or audit.digest_key.
//
//	go run scripts/generate-key.go
package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
)

func randomSecret(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		log.Fatal(err)
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

func main() {
	fmt.Println("==========================================================")
	fmt.Println("Secret Generated")
	fmt.Println("==========================================================")
	fmt.Printf("\nSHOPDESK_JWT_SECRET=%s\n", randomSecret(48))
	// 48 random bytes encode to 64 characters, the digest key limit
	fmt.Printf("\nSHOPDESK_AUDIT_DIGEST_KEY=%s\n", randomSecret(48))
	fmt.Println("\n==========================================================")
}
