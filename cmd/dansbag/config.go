package main

import (
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"
)

// Config is the contents of the file given with --config. Every part is
// optional.
type Config struct {
	Server ServerConfig
	Client ClientConfig
}

// ServerConfig configures the serve command.
type ServerConfig struct {
	Port      string
	Tokens    string // path to a token list, see server.NewListDecoder
	Storage   string // store location, see parselocation
	SentryDSN string `toml:"sentry_dsn"`
}

// ClientConfig configures the upload command.
type ClientConfig struct {
	Host        string
	Token       string
	SegmentSize int64 `toml:"segment_size"`
	Rate        float64
}

// Description says what goes into a bag built by the create command.
// Bitstream paths are relative to the directory holding the description.
type Description struct {
	Name        string
	VersionOf   string `toml:"version_of"`
	Compression string // "deflate" (the default) or "store"
	Dataset     []FieldValue
	Profile     []FieldValue
	Datafile    []DatafileDescription
}

// FieldValue is one metadata field. For dataset and data file metadata the
// field is in DSpace dotted form, e.g. "dc.contributor.author". For the
// profile it is a prefixed element name, e.g. "dcterms:created".
type FieldValue struct {
	Field string
	Value string
}

// DatafileDescription is one data file of the dataset.
type DatafileDescription struct {
	Ident     string
	Metadata  []FieldValue
	Bitstream []BitstreamDescription
}

// BitstreamDescription is one file stored under a data file.
type BitstreamDescription struct {
	Path        string
	Filename    string // defaults to the last element of Path
	Format      string
	Description string
	Bundle      string // defaults to ORIGINAL
}

// loadConfig reads the configuration file. An empty name gives an empty
// configuration.
func loadConfig(fname string) (Config, error) {
	var cfg Config
	if fname == "" {
		return cfg, nil
	}
	err := decodeFile(fname, &cfg)
	return cfg, err
}

// loadDescription reads a bag description.
func loadDescription(fname string) (*Description, error) {
	desc := new(Description)
	if err := decodeFile(fname, desc); err != nil {
		return nil, err
	}
	return desc, nil
}

func decodeFile(fname string, v interface{}) error {
	data, err := os.ReadFile(fname)
	if err != nil {
		return err
	}
	md, err := toml.Decode(string(data), v)
	if err != nil {
		return err
	}
	if keys := md.Undecoded(); len(keys) > 0 {
		var names []string
		for _, k := range keys {
			names = append(names, k.String())
		}
		log.Warnf("%s: ignoring unknown keys %s", fname, strings.Join(names, ", "))
	}
	return nil
}
