// Package config fills env-tagged structs from the process environment.
//
// Values may first be seeded from a dotenv file; variables already present in
// the environment always win over file entries.
//
//	if err := config.LoadEnvFile(".env", true); err != nil {
//		return err
//	}
//
//	var cfg jobqueue.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
//
// Every call parses the environment afresh, so a command can reload after
// changing variables. Errors wrap ErrParsingConfig, ErrEnvFile or
// ErrNilPointer and can be matched with errors.Is.
package config
