// Package config binds the options SPEC_FULL.md §6/§12 names to cobra
// flags and viper, the way GoogleCloudPlatform-gcsfuse's cfg package
// binds its own mount options.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the bound, typed view of every recognized option.
type Config struct {
	// Database connection parameters.
	Host       string
	Port       int
	Socket     string
	User       string
	Password   string
	Database   string
	// MycnfGroup is parsed and dumped by debug-dnq but otherwise unused:
	// go-sql-driver/mysql has no equivalent of the C client's
	// MYSQL_READ_DEFAULT_GROUP, so there is nothing for it to bind to.
	// See DESIGN.md.
	MycnfGroup string

	// Pool sizing.
	InitConns      int
	MaxIdlingConns int

	// Operational flags.
	Fsck       bool
	Logfile    string
	Background bool
	DebugDNQ   bool

	// Mount flags not named in §6 but required to invoke the bridge.
	MountPoint string
	AllowOther bool
	Debug      bool
}

// Default returns the configuration SPEC_FULL.md §12 specifies when no
// flag or environment variable overrides a field. No config file is read.
func Default() Config {
	return Config{
		Host:           "localhost",
		Port:           3306,
		InitConns:      1,
		MaxIdlingConns: 5,
		Fsck:           false,
		Logfile:        "stderr",
	}
}

// BindFlags registers every option as a flag on fs, mirroring
// gcsfuse's cfg.BindFlags. Call Load after cobra has parsed flags to
// obtain the resolved Config.
func BindFlags(fs *pflag.FlagSet) error {
	d := Default()
	fs.String("host", d.Host, "database host")
	fs.Int("port", d.Port, "database port")
	fs.String("socket", "", "database unix socket path, overrides host/port")
	fs.String("user", "", "database user")
	fs.String("password", "", "database password")
	fs.String("database", "", "database schema name")
	fs.String("mycnf-group", "", "section name in the driver's defaults file")
	fs.Int("init-conns", d.InitConns, "idle connection pool floor")
	fs.Int("max-idling-conns", d.MaxIdlingConns, "idle connection pool ceiling")
	fs.Bool("fsck", d.Fsck, "run an integrity pass before mounting")
	fs.String("logfile", d.Logfile, "log destination: stdout, stderr, or a path")
	fs.Bool("background", d.Background, "fork a child process before mounting")
	fs.Bool("allow-other", false, "allow other users to access the mount")
	fs.Bool("debug", false, "log every filesystem call")
	fs.Bool("debug-dnq", false, "dump the resolved configuration to stderr and exit(2) without mounting")

	return viper.BindPFlags(fs)
}

// Load reads the bound flags (and any SQLFS_-prefixed environment
// variable override, per viper.SetEnvPrefix in Init) into a Config.
// mountPoint is the one positional argument the command takes, not a
// flag.
func Load(mountPoint string) (Config, error) {
	if mountPoint == "" {
		return Config{}, fmt.Errorf("config: mount point is required")
	}
	c := Config{
		Host:           viper.GetString("host"),
		Port:           viper.GetInt("port"),
		Socket:         viper.GetString("socket"),
		User:           viper.GetString("user"),
		Password:       viper.GetString("password"),
		Database:       viper.GetString("database"),
		MycnfGroup:     viper.GetString("mycnf-group"),
		InitConns:      viper.GetInt("init-conns"),
		MaxIdlingConns: viper.GetInt("max-idling-conns"),
		Fsck:           viper.GetBool("fsck"),
		Logfile:        viper.GetString("logfile"),
		Background:     viper.GetBool("background"),
		DebugDNQ:       viper.GetBool("debug-dnq"),
		MountPoint:     mountPoint,
		AllowOther:     viper.GetBool("allow-other"),
		Debug:          viper.GetBool("debug"),
	}
	if c.DebugDNQ {
		// Dump-and-quit bypasses validation: it reports whatever was
		// resolved, same as mysqlfs's KEY_DEBUG_DNQ handler firing
		// during option parsing, before pool_init.
		return c, nil
	}
	if c.Database == "" {
		return Config{}, fmt.Errorf("config: --database is required")
	}
	if c.MaxIdlingConns < c.InitConns {
		return Config{}, fmt.Errorf("config: max-idling-conns (%d) must be >= init-conns (%d)", c.MaxIdlingConns, c.InitConns)
	}
	return c, nil
}

// Init wires environment variable overrides (SQLFS_HOST, SQLFS_PORT,
// SQLFS_INIT_CONNS, ...) ahead of BindFlags being called.
func Init() {
	viper.SetEnvPrefix("sqlfs")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// DSN builds the go-sql-driver/mysql data source name for this
// configuration.
func (c Config) DSN() string {
	addr := fmt.Sprintf("tcp(%s:%d)", c.Host, c.Port)
	if c.Socket != "" {
		addr = fmt.Sprintf("unix(%s)", c.Socket)
	}
	return fmt.Sprintf("%s:%s@%s/%s?parseTime=false", c.User, c.Password, addr, c.Database)
}
