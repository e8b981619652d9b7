package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/angelmondragon/kitforge-backend/pkg/config"
	"github.com/angelmondragon/kitforge-backend/pkg/security"
)

// apikey mints an admin API key and prints the hash to add to
// KITFORGE_ADMIN_API_KEY_HASHES. The plaintext key is shown once.
func main() {
	prefix := flag.String("prefix", "kf_", "key prefix; must match KITFORGE_ADMIN_API_KEY_PREFIX")
	flag.Parse()

	key, err := security.GenerateAPIKey(*prefix)
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate key: %v\n", err)
		os.Exit(1)
	}
	hash, err := security.HashSecret(key, security.DefaultArgonParams)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hash key: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("api key: %s\n%s=%s\n", key, config.EnvAdminAPIKeyHashes, hash)
}
