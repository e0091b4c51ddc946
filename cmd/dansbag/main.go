package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	raven "github.com/getsentry/raven-go"
	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/datadryad/dans-bagit/client"
	"github.com/datadryad/dans-bagit/server"
)

var (
	configFile  = flag.StringP("config", "c", "", "TOML configuration file")
	verbose     = flag.BoolP("verbose", "v", false, "log debugging information")
	outDir      = flag.StringP("out", "o", ".", "create: directory to write the bag into")
	verify      = flag.Bool("verify", false, "info: recompute every digest")
	location    = flag.StringP("location", "s", ".", "split: where to write the segments")
	segmentSize = flag.Int64("segment-size", client.DefaultSegmentSize, "split, upload: segment size in bytes")
	port        = flag.String("port", "14000", "serve: port to listen on")
	host        = flag.String("host", "http://localhost:14000", "upload: deposit server URL")
	token       = flag.String("token", "", "upload: API key for the deposit server")
	rate        = flag.Float64("rate", 0, "upload: bytes per second, 0 for no limit")
	usage       = `
dansbag [flags] <command> <command arguments>

Possible commands:

    create <description file>
    info <bag zip>
    split <bag zip>
    serve
    upload <deposit id> <bag zip>

`
)

func main() {
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		log.Fatalln(err)
	}
	applyFlags(&cfg)

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	switch args[0] {
	case "create":
		needArgs(args, 2)
		err = docreate(args[1])
	case "info":
		needArgs(args, 2)
		err = doinfo(args[1])
	case "split":
		needArgs(args, 2)
		err = dosplit(args[1])
	case "serve":
		err = doserve(cfg.Server)
	case "upload":
		needArgs(args, 3)
		err = doupload(cfg.Client, args[1], args[2])
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalln(err)
	}
}

func needArgs(args []string, n int) {
	if len(args) != n {
		fmt.Fprintf(os.Stderr, "%s: wrong number of arguments\n", args[0])
		flag.Usage()
		os.Exit(2)
	}
}

// applyFlags lets flags given on the command line override the
// configuration file. Values missing from both take the flag defaults.
func applyFlags(cfg *Config) {
	changed := flag.CommandLine.Changed
	if changed("port") || cfg.Server.Port == "" {
		cfg.Server.Port = *port
	}
	if changed("host") || cfg.Client.Host == "" {
		cfg.Client.Host = *host
	}
	if changed("token") || cfg.Client.Token == "" {
		cfg.Client.Token = *token
	}
	if changed("segment-size") || cfg.Client.SegmentSize == 0 {
		cfg.Client.SegmentSize = *segmentSize
	}
	if changed("rate") || cfg.Client.Rate == 0 {
		cfg.Client.Rate = *rate
	}
}

func docreate(descfile string) error {
	desc, err := loadDescription(descfile)
	if err != nil {
		return err
	}
	zipname, err := buildBag(desc, filepath.Dir(descfile), *outDir)
	if err != nil {
		return err
	}
	fmt.Println(zipname)
	return nil
}

func doinfo(path string) error {
	nbad, err := printInfo(os.Stdout, path, *verify)
	if err == nil && nbad > 0 {
		os.Exit(1)
	}
	return err
}

func dosplit(path string) error {
	s, err := parselocation(*location)
	if err != nil {
		return err
	}
	n, err := splitBag(s, path, *segmentSize)
	if err != nil {
		return err
	}
	fmt.Printf("%d segments written to %s\n", n, *location)
	return nil
}

func doserve(cfg ServerConfig) error {
	if cfg.SentryDSN != "" {
		raven.SetDSN(cfg.SentryDSN)
	}
	s := &server.Server{PortNumber: cfg.Port}
	if cfg.Tokens != "" {
		tokens, err := server.NewListDecoderFile(cfg.Tokens)
		if err != nil {
			return err
		}
		s.Tokens = tokens
	}
	if cfg.Storage != "" {
		storage, err := parselocation(cfg.Storage)
		if err != nil {
			return err
		}
		s.Storage = storage
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Println("Received signal, stopping")
		if err := s.Stop(); err != nil {
			log.Errorln(err)
		}
	}()
	return s.Run()
}

func doupload(cfg ClientConfig, id, path string) error {
	c := &client.Connection{
		HostURL:     cfg.Host,
		Token:       cfg.Token,
		SegmentSize: cfg.SegmentSize,
		Rate:        cfg.Rate,
	}
	return c.Upload(id, path)
}
