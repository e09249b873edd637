package cli

import "flag"

func (c *Config) registerFlagsOsSpecific(set *flag.FlagSet) {
	if c.Flags.isSet(FlagOAuth) {
		set.StringVar(&c.Backend.KeyCtlScope, "keyctl-scope", c.Backend.KeyCtlScope, "Kernel keyring `scope` (user|session|process|thread) for the keyctl keyring type.")
	}
}
