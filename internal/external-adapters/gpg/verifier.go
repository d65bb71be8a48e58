// Package gpg verifies detached signatures over downloaded archive files.
package gpg

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
)

// ubuntuKeyservers are tried in order when importing archive signing keys.
var ubuntuKeyservers = []string{
	"https://keyserver.ubuntu.com",
	"https://keys.openpgp.org",
}

// Verifier checks detached OpenPGP signatures against an imported keyring.
// Keys come from local files or from a keyserver; verification never touches
// the network.
type Verifier struct {
	keyring    openpgp.EntityList
	httpClient *http.Client
}

// NewVerifier creates a verifier with an empty keyring.
func NewVerifier() *Verifier {
	return &Verifier{
		keyring: make(openpgp.EntityList, 0),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// KeyringSize returns the number of imported keys.
func (v *Verifier) KeyringSize() int {
	return len(v.keyring)
}

// ImportKeyFromFile imports an armored or binary key file.
func (v *Verifier) ImportKeyFromFile(keyPath string) error {
	//nolint:gosec // G304: keyPath is user-provided for key import
	f, err := os.Open(keyPath)
	if err != nil {
		return fmt.Errorf("failed to open key file: %w", err)
	}
	//nolint:errcheck // Defer close on read-only file
	defer f.Close()

	keys, err := openpgp.ReadArmoredKeyRing(f)
	if err != nil {
		if _, seekErr := f.Seek(0, 0); seekErr != nil {
			return fmt.Errorf("failed to reset key file: %w", seekErr)
		}
		keys, err = openpgp.ReadKeyRing(f)
		if err != nil {
			return fmt.Errorf("failed to read key: %w", err)
		}
	}
	if len(keys) == 0 {
		return fmt.Errorf("no keys found in %s", keyPath)
	}

	v.keyring = append(v.keyring, keys...)
	return nil
}

// ImportKeys fetches keys by fingerprint from the known keyservers, trying
// each in turn.
func (v *Verifier) ImportKeys(ctx context.Context, fingerprints []string) error {
	if len(fingerprints) == 0 {
		return fmt.Errorf("no key fingerprints provided")
	}

	for _, fp := range fingerprints {
		if fp == "" {
			continue
		}
		keys, err := v.fetchKey(ctx, fp)
		if err != nil {
			return fmt.Errorf("import key %s: %w", fp, err)
		}
		v.keyring = append(v.keyring, keys...)
	}
	return nil
}

// fetchKey downloads one key, verifying the returned fingerprint matches.
func (v *Verifier) fetchKey(ctx context.Context, fingerprint string) (openpgp.EntityList, error) {
	var lastErr error
	for _, server := range ubuntuKeyservers {
		urls := []string{
			fmt.Sprintf("%s/vks/v1/by-fingerprint/%s", server, fingerprint),
			fmt.Sprintf("%s/pks/lookup?op=get&search=0x%s", server, fingerprint),
		}
		for _, url := range urls {
			keys, err := v.fetchKeyFromURL(ctx, url)
			if err != nil {
				lastErr = err
				continue
			}
			if !keyringMatches(keys, fingerprint) {
				lastErr = fmt.Errorf("no key matching fingerprint %s in response", fingerprint)
				continue
			}
			return keys, nil
		}
	}
	return nil, lastErr
}

func (v *Verifier) fetchKeyFromURL(ctx context.Context, url string) (openpgp.EntityList, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	//nolint:errcheck // Defer close on HTTP response body
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("keyserver returned status %d", resp.StatusCode)
	}

	keys, err := openpgp.ReadArmoredKeyRing(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("no keys in keyserver response")
	}
	return keys, nil
}

// keyringMatches reports whether any key's fingerprint matches fingerprint,
// accepting the 16-character short form.
func keyringMatches(keys openpgp.EntityList, fingerprint string) bool {
	for _, entity := range keys {
		fp := fmt.Sprintf("%X", entity.PrimaryKey.Fingerprint)
		if fp == fingerprint {
			return true
		}
		if len(fp) >= 16 && fp[len(fp)-16:] == fingerprint {
			return true
		}
	}
	return false
}

// VerifyFile checks the detached signature at sigPath over the file at
// filePath. Both armored and binary signatures are accepted.
func (v *Verifier) VerifyFile(filePath, sigPath string) error {
	if len(v.keyring) == 0 {
		return fmt.Errorf("no keys imported")
	}

	//nolint:gosec // G304: sigPath is user-provided for verification
	sigData, err := os.ReadFile(sigPath)
	if err != nil {
		return fmt.Errorf("failed to read signature: %w", err)
	}
	//nolint:gosec // G304: filePath is user-provided for verification
	data, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open data file: %w", err)
	}
	//nolint:errcheck // Defer close on read-only file
	defer data.Close()

	armored := bytes.HasPrefix(sigData, []byte("-----BEGIN PGP SIGNATURE-----"))
	if armored {
		_, err = openpgp.CheckArmoredDetachedSignature(v.keyring, data, bytes.NewReader(sigData), nil)
	} else {
		_, err = openpgp.CheckDetachedSignature(v.keyring, data, bytes.NewReader(sigData), nil)
	}
	if err != nil {
		return fmt.Errorf("signature verification failed: %w", err)
	}
	return nil
}
