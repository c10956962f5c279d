package main

import (
	"context"
	"fmt"
	logger "log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BusDataTools/buscast/app/bus-monitor/monitor"
	"github.com/BusDataTools/buscast/business/data/arrivals"
	"github.com/BusDataTools/buscast/business/data/timetable"
	"github.com/BusDataTools/buscast/foundation/database"
	"github.com/BusDataTools/buscast/foundation/httpclient"
	"github.com/ardanlabs/conf"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
)

var build = "develop"

func main() {
	log := logger.New(os.Stdout, "BUS_MONITOR : ", logger.LstdFlags|logger.Lmicroseconds|logger.Lshortfile)
	if err := run(log); err != nil {
		log.Printf("main: error: %v", err)
		os.Exit(1)
	}
}

func run(log *logger.Logger) error {

	// pick up local overrides, absence of the file is fine
	_ = godotenv.Load()

	var cfg struct {
		conf.Version
		Args conf.Args
		Web  struct {
			HttpPort int `conf:"default:8080"`
		}
		DB struct {
			Enable     bool   `conf:"default:false"`
			User       string `conf:"default:postgres"`
			Password   string `conf:"default:postgres,noprint"`
			Host       string `conf:"default:0.0.0.0"`
			Name       string `conf:"default:postgres"`
			DisableTLS bool   `conf:"default:true"`
		}
		Sheets struct {
			Enable          bool   `conf:"default:true"`
			SpreadsheetId   string
			CredentialsFile string `conf:"default:service-account.json"`
		}
		NATS struct {
			Enable  bool   `conf:"default:false"`
			Url     string `conf:"default:nats://127.0.0.1:4222"`
			Subject string `conf:"default:bus-arrivals"`
		}
		BODS struct {
			ApiKey     string `conf:"noprint"`
			ApiKeyFile string `conf:"default:.bods_key"`
			FeedUrl    string `conf:"default:https://data.bus-data.dft.gov.uk/api/v1/datafeed/"`
			FeedFormat string `conf:"default:siri-vm"`
			Routes     string `conf:"default:TUBE:outbound,TUBE:inbound"`
		}
		Timetable struct {
			PathTemplate        string `conf:"default:timetable-%s.xml"`
			DownloadUrlTemplate string
		}
		Monitor struct {
			PollEverySeconds  int     `conf:"default:60"`
			SessionMinutes    int     `conf:"default:180"`
			ProximityMeters   float64 `conf:"default:100"`
			JourneyGapMinutes int     `conf:"default:180"`
			Timezone          string  `conf:"default:Europe/London"`
		}
	}
	cfg.Version.SVN = build
	cfg.Version.Desc = "Monitor bus vehicle positions and record stop arrivals"
	const prefix = "BUSMON"
	if err := conf.Parse(os.Args[1:], prefix, &cfg); err != nil {
		switch err {
		case conf.ErrHelpWanted:
			usage, err := conf.Usage(prefix, &cfg)
			if err != nil {
				return fmt.Errorf("generating config usage: %w", err)
			}
			printUsage(usage)
			return nil
		case conf.ErrVersionWanted:
			version, err := conf.VersionString(prefix, &cfg)
			if err != nil {
				return fmt.Errorf("generating config version: %w", err)
			}
			fmt.Println(version)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// =========================================================================
	// App Starting

	log.Printf("main : Started : Application initializing : version %s", build)
	defer log.Println("main: Completed")

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Printf("main: Config :\n%v\n", out)

	routes, err := parseRouteDirections(cfg.BODS.Routes)
	if err != nil {
		return fmt.Errorf("parsing routes: %w", err)
	}

	apiKey := cfg.BODS.ApiKey
	if apiKey == "" {
		apiKey, err = readApiKeyFile(cfg.BODS.ApiKeyFile)
		if err != nil {
			return fmt.Errorf("loading api key: %w", err)
		}
	}

	location, err := time.LoadLocation(cfg.Monitor.Timezone)
	if err != nil {
		return fmt.Errorf("loading timezone %s: %w", cfg.Monitor.Timezone, err)
	}

	// =========================================================================
	// Timetables

	if cfg.Timetable.DownloadUrlTemplate != "" {
		if err = downloadMissingTimetables(log, cfg.Timetable.PathTemplate,
			cfg.Timetable.DownloadUrlTemplate, routes); err != nil {
			return err
		}
	}

	index := timetable.NewIndex(&timetable.TransXChangeSource{PathTemplate: cfg.Timetable.PathTemplate})

	// =========================================================================
	// Row stores

	var mergers []*arrivals.Merger

	if cfg.Sheets.Enable {
		if cfg.Sheets.SpreadsheetId == "" {
			return fmt.Errorf("sheets enabled but no spreadsheet id configured")
		}
		log.Println("main: Initializing sheets support")
		sheetStore, err := arrivals.NewSheetStore(context.Background(),
			cfg.Sheets.CredentialsFile, cfg.Sheets.SpreadsheetId)
		if err != nil {
			return fmt.Errorf("connecting to sheets: %w", err)
		}
		for _, route := range routes {
			stops, err := index.StopsFor(route.RouteId, route.Direction)
			if err != nil {
				return fmt.Errorf("loading stops for %s %s: %w", route.RouteId, route.Direction, err)
			}
			if err = sheetStore.EnsureRouteTab(route.RouteId, route.Direction, stops); err != nil {
				return fmt.Errorf("preparing tab for %s %s: %w", route.RouteId, route.Direction, err)
			}
		}
		mergers = append(mergers, arrivals.NewMerger(sheetStore, location))
	}

	if cfg.DB.Enable {
		log.Println("main: Initializing database support")
		db, err := database.Open(database.Config{
			User:       cfg.DB.User,
			Password:   cfg.DB.Password,
			Host:       cfg.DB.Host,
			Name:       cfg.DB.Name,
			DisableTLS: cfg.DB.DisableTLS,
		})
		if err != nil {
			return fmt.Errorf("connecting to db: %w", err)
		}
		defer func() {
			log.Printf("main: Database Stopping : %s", cfg.DB.Host)
			err = db.Close()
			if err != nil {
				log.Printf("main: error closing database: %v", err)
			}
		}()
		pgStore := arrivals.NewPGStore(db)
		if err = pgStore.EnsureSchema(); err != nil {
			return fmt.Errorf("preparing db schema: %w", err)
		}
		mergers = append(mergers, arrivals.NewMerger(pgStore, location))
	}

	if len(mergers) == 0 {
		return fmt.Errorf("no row store enabled, enable sheets or db")
	}

	// =========================================================================
	// NATS

	var natsConnection *nats.Conn
	if cfg.NATS.Enable {
		log.Println("main: Initializing nats support")
		natsConnection, err = nats.Connect(cfg.NATS.Url)
		if err != nil {
			return fmt.Errorf("connecting to nats at %s: %w", cfg.NATS.Url, err)
		}
		defer natsConnection.Close()
	}

	// Make a channel to listen for an interrupt or terminate signal from the OS.
	// Use a buffered channel because the signal package requires it.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	return monitor.RunArrivalMonitorLoop(log, monitor.Config{
		FeedFormat:      cfg.BODS.FeedFormat,
		FeedUrl:         cfg.BODS.FeedUrl,
		ApiKey:          apiKey,
		Routes:          routes,
		PollEvery:       time.Duration(cfg.Monitor.PollEverySeconds) * time.Second,
		SessionLength:   time.Duration(cfg.Monitor.SessionMinutes) * time.Minute,
		ProximityMeters: cfg.Monitor.ProximityMeters,
		JourneyGap:      time.Duration(cfg.Monitor.JourneyGapMinutes) * time.Minute,
		PublishOverNats: cfg.NATS.Enable,
		NatsSubject:     cfg.NATS.Subject,
		HttpPort:        cfg.Web.HttpPort,
	}, index, mergers, natsConnection, shutdown)
}

//parseRouteDirections reads the configured route list, entries are
//"routeId:direction" separated by commas
func parseRouteDirections(value string) ([]monitor.RouteDirection, error) {
	var routes []monitor.RouteDirection
	for _, entry := range strings.Split(value, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("route entry %q is not in routeId:direction form", entry)
		}
		routes = append(routes, monitor.RouteDirection{RouteId: parts[0], Direction: parts[1]})
	}
	if len(routes) == 0 {
		return nil, fmt.Errorf("no routes configured")
	}
	return routes, nil
}

//readApiKeyFile loads the feed api key from a local file kept out of the environment
func readApiKeyFile(fileName string) (string, error) {
	contents, err := os.ReadFile(fileName)
	if err != nil {
		return "", fmt.Errorf("reading api key file %s: %w", fileName, err)
	}
	apiKey := strings.TrimSpace(string(contents))
	if apiKey == "" {
		return "", fmt.Errorf("api key file %s is empty", fileName)
	}
	return apiKey, nil
}

//downloadMissingTimetables retrieves TransXChange documents for routes that
//have no local timetable file yet
func downloadMissingTimetables(log *logger.Logger,
	pathTemplate string,
	urlTemplate string,
	routes []monitor.RouteDirection) error {

	seen := make(map[string]bool)
	for _, route := range routes {
		if seen[route.RouteId] {
			continue
		}
		seen[route.RouteId] = true

		fileName := fmt.Sprintf(pathTemplate, route.RouteId)
		if _, err := os.Stat(fileName); err == nil {
			continue
		}
		url := fmt.Sprintf(urlTemplate, route.RouteId)
		log.Printf("main: downloading timetable for route %s from %s", route.RouteId, url)
		downloaded, err := httpclient.DownloadRemoteFile(fileName, url)
		if err != nil {
			return fmt.Errorf("downloading timetable for route %s: %w", route.RouteId, err)
		}
		log.Printf("main: saved %s (%d bytes)", downloaded.LocalFilePath, downloaded.Size)
	}
	return nil
}

func printUsage(confUsage string) {
	fmt.Println(confUsage)
}
