package main

import (
	"fmt"
	"os"

	"autotrade-core/pkg/config"
	"autotrade-core/pkg/secrets"
)

// seal_credential prepares values for GATEWAY_API_KEY / GATEWAY_API_SECRET.
//
// Usage:
//   go run ./scripts/seal_credential keygen
//   CREDENTIALS_KEY=... go run ./scripts/seal_credential seal <value>
//   CREDENTIALS_KEY=... CREDENTIALS_KEY_V2=... go run ./scripts/seal_credential rotate <sealed>

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	switch os.Args[1] {
	case "keygen":
		key, err := secrets.GenerateKey()
		if err != nil {
			fail(err)
		}
		fmt.Println(key)
	case "seal", "rotate":
		if len(os.Args) != 3 {
			usage()
		}
		kr, err := secrets.KeyringFromEnv(config.CredentialsKeyEnv)
		if err != nil {
			fail(err)
		}
		var out string
		if os.Args[1] == "seal" {
			out, err = kr.Seal(os.Args[2])
		} else {
			out, err = kr.Rotate(os.Args[2])
		}
		if err != nil {
			fail(err)
		}
		fmt.Println(out)
	default:
		usage()
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: seal_credential keygen | seal <value> | rotate <sealed>")
	os.Exit(2)
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
