package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/GeekCmore/epwn/internal/external-adapters/gpg"
)

func runVerify(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	var (
		keyFile      = fs.String("key", "", "Public key file (armored or binary)")
		fingerprints = fs.String("fingerprints", "", "Comma-separated key fingerprints to fetch from keyservers")
	)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: epwn verify <file> <signature> [options]

Verify a detached OpenPGP signature over a downloaded file. Keys come
from a local key file or are fetched from the Ubuntu keyservers by
fingerprint.

Examples:
  epwn verify glibc_2.31.orig.tar.xz glibc_2.31.orig.tar.xz.asc --key archive-key.asc
  epwn verify pkg.deb pkg.deb.sig --fingerprints 790BC7277767219C42C86F933B4FE6ACC0B21F32

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		fatal("parsing flags: %v", err)
	}
	if fs.NArg() < 2 {
		fmt.Fprintf(os.Stderr, "Error: file and signature are required\n\n")
		fs.Usage()
		os.Exit(1)
	}
	filePath := fs.Arg(0)
	sigPath := fs.Arg(1)

	verifier := gpg.NewVerifier()
	if *keyFile != "" {
		if err := verifier.ImportKeyFromFile(*keyFile); err != nil {
			fatal("%v", err)
		}
	}
	if *fingerprints != "" {
		fps := strings.Split(*fingerprints, ",")
		if err := verifier.ImportKeys(ctx, fps); err != nil {
			fatal("%v", err)
		}
	}
	if verifier.KeyringSize() == 0 {
		fatal("no keys imported; pass --key or --fingerprints")
	}

	if err := verifier.VerifyFile(filePath, sigPath); err != nil {
		fatal("%v", err)
	}
	fmt.Printf("Good signature: %s\n", filePath)
}
