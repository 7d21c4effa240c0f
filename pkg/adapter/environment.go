package adapter

import "os"

// Environment describes where the application is running: deployment mode,
// the platform runtime, and the database coordinates the host exposes
// through its conventional variables.
type Environment struct {
	Mode         string
	Runtime      string
	DBConnection string
	DBHost       string
	DBPort       string
}

// ResolveEnvironment reads the conventional environment variables once per
// adapter construction. Mode defaults to "development" and the database
// driver to "sqlite", matching local-first development.
func ResolveEnvironment(runtime string) Environment {
	return ResolveEnvironmentFrom(runtime, os.LookupEnv)
}

// ResolveEnvironmentFrom resolves the same variables through an arbitrary
// lookup. Worker hosts pass their binding vars here so bindings take
// precedence over process env; the defaults still apply when the lookup has
// nothing.
func ResolveEnvironmentFrom(runtime string, lookup func(string) (string, bool)) Environment {
	get := func(key string) string {
		v, _ := lookup(key)
		return v
	}
	env := Environment{
		Mode:         get("APP_ENV"),
		Runtime:      runtime,
		DBConnection: get("DB_CONNECTION"),
		DBHost:       get("DB_HOST"),
		DBPort:       get("DB_PORT"),
	}
	if env.Mode == "" {
		env.Mode = "development"
	}
	if env.DBConnection == "" {
		env.DBConnection = "sqlite"
	}
	return env
}

// IsProduction reports whether the resolved mode is production.
func (e Environment) IsProduction() bool { return e.Mode == "production" }
