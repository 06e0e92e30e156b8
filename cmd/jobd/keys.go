package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"jobchain/cmd/internal/passphrase"
	"jobchain/config"
	"jobchain/crypto"
)

var newPassphraseSource = func() *passphrase.Source {
	return passphrase.NewSource(passphraseEnv)
}

// keyPath resolves a --key value: a path when it names a file, otherwise a key
// name inside the keystore directory.
func keyPath(cfg *config.Config, ref string) string {
	ref = strings.TrimSpace(ref)
	if strings.ContainsRune(ref, filepath.Separator) || strings.HasSuffix(ref, ".json") {
		return ref
	}
	return filepath.Join(cfg.KeystoreDir, ref+".json")
}

func loadKey(cfg *config.Config, ref string) (*crypto.PrivateKey, error) {
	if strings.TrimSpace(ref) == "" {
		return nil, errors.New("--key is required")
	}
	pass, err := newPassphraseSource().Get()
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadFromKeystore(keyPath(cfg, ref), pass)
	if err != nil {
		return nil, fmt.Errorf("load key %s: %w", ref, err)
	}
	return key, nil
}

// resolveAddress accepts a bech32 address or the name of a keystore key.
func resolveAddress(cfg *config.Config, value string) ([20]byte, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return [20]byte{}, errors.New("--address is required")
	}
	if addr, err := crypto.DecodeAddress(value); err == nil {
		return addr.Raw(), nil
	}
	addr, err := crypto.KeystoreAddress(keyPath(cfg, value))
	if err != nil {
		return [20]byte{}, fmt.Errorf("%q is neither an address nor a keystore key", value)
	}
	return addr.Raw(), nil
}

func (c *cli) runKeygen(args []string) int {
	flags := c.flagSet("keygen")
	name := flags.String("name", "", "key name inside the keystore directory")
	light := flags.Bool("light", false, "use the light scrypt cost (development keys only)")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*name) == "" {
		return c.fail("--name is required")
	}
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return c.failErr(err)
	}
	path := keyPath(cfg, *name)
	if _, err := os.Stat(path); err == nil {
		return c.fail(fmt.Sprintf("key %s already exists", path))
	} else if !errors.Is(err, fs.ErrNotExist) {
		return c.failErr(err)
	}
	pass, err := newPassphraseSource().Get()
	if err != nil {
		return c.failErr(err)
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return c.failErr(err)
	}
	params := crypto.StandardScrypt
	if *light {
		params = crypto.LightScrypt
	}
	if err := crypto.SaveToKeystoreWithParams(path, key, pass, params); err != nil {
		return c.failErr(err)
	}
	return c.printJSON(map[string]string{
		"name":    *name,
		"address": key.PubKey().Address().String(),
		"path":    path,
	})
}

func (c *cli) runAddress(args []string) int {
	flags := c.flagSet("address")
	ref := flags.String("key", "", "key name or keystore file")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*ref) == "" {
		return c.fail("--key is required")
	}
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return c.failErr(err)
	}
	addr, err := crypto.KeystoreAddress(keyPath(cfg, *ref))
	if err != nil {
		return c.failErr(err)
	}
	fmt.Fprintln(c.stdout, addr.String())
	return 0
}
