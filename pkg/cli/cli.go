package cli

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/rs/zerolog/log"
	"github.com/yeboverify/bioid-bridge/pkg/api/client"
	"github.com/yeboverify/bioid-bridge/pkg/api/models"
	"github.com/yeboverify/bioid-bridge/pkg/config"
	"github.com/yeboverify/bioid-bridge/pkg/database"
	"github.com/yeboverify/bioid-bridge/pkg/platforms"
	"github.com/yeboverify/bioid-bridge/pkg/utils"
	"golang.org/x/exp/slices"
)

type Flags struct {
	Api           *string
	Discover      *bool
	Capture       *string
	ExportHistory *string
	Version       *bool
}

// SetupFlags defines all common CLI flags between platforms.
func SetupFlags() *Flags {
	return &Flags{
		Api: flag.String(
			"api",
			"",
			"send method and params to API and print response",
		),
		Discover: flag.Bool(
			"discover",
			false,
			"list attached fingerprint scanners",
		),
		Capture: flag.String(
			"capture",
			"",
			"capture a fingerprint for the given finger and print its quality",
		),
		ExportHistory: flag.String(
			"export-history",
			"",
			"write the operation history to a CSV file",
		),
		Version: flag.Bool(
			"version",
			false,
			"print version and exit",
		),
	}
}

// Pre runs flag parsing and actions any immediate flags that don't
// require environment setup. Add any custom flags before running this.
func (f *Flags) Pre(pl platforms.Platform) {
	flag.Parse()

	if *f.Version {
		fmt.Printf("BioID Bridge v%s (%s)\n", config.Version, pl.Id())
		os.Exit(0)
	}
}

func exitError(msg string, err error) {
	log.Error().Err(err).Msg(strings.ToLower(msg))
	_, _ = fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}

// PrintDevices writes one line per discovered scanner.
func PrintDevices(w io.Writer, resp string) error {
	var ds []models.DeviceResponse
	err := json.Unmarshal([]byte(resp), &ds)
	if err != nil {
		return err
	}

	if len(ds) == 0 {
		_, err := fmt.Fprintln(w, "No scanners found.")
		return err
	}

	for _, d := range ds {
		connected := ""
		if d.IsConnected {
			connected = " [connected]"
		}
		_, err := fmt.Fprintf(w, "%s: %s, %s %s%s\n", d.Id, d.Name, d.Manufacturer, d.Model, connected)
		if err != nil {
			return err
		}
	}

	return nil
}

// WriteHistoryCsv converts a history API response to CSV, oldest first.
func WriteHistoryCsv(w io.Writer, resp string) error {
	var hr models.HistoryResponse
	err := json.Unmarshal([]byte(resp), &hr)
	if err != nil {
		return err
	}

	entries := slices.Clone(hr.Entries)
	slices.Reverse(entries)

	return gocsv.Marshal(&entries, w)
}

func exportHistory(pl platforms.Platform, cfg *config.UserConfig, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	params := fmt.Sprintf(`{"maxResults":%d}`, database.MaxHistoryEntries)
	resp, err := client.LocalClient(cfg, models.MethodHistory, params)
	if err == nil {
		return WriteHistoryCsv(f, resp)
	}

	// service not running, read the db directly
	log.Debug().Err(err).Msg("history api unavailable")
	if !database.DbExists(pl) {
		return errors.New("no history recorded yet")
	}

	db, err := database.OpenReadOnly(pl)
	if err != nil {
		return err
	}
	defer func(db *database.Database) {
		_ = db.Close()
	}(db)

	return db.ExportHistory(f)
}

// Post actions all remaining common flags that require the environment to be
// set up. Logging is allowed.
func (f *Flags) Post(pl platforms.Platform, cfg *config.UserConfig) {
	if *f.Api != "" {
		ps := strings.SplitN(*f.Api, ":", 2)
		method := ps[0]
		params := ""
		if len(ps) > 1 {
			params = ps[1]
		}

		resp, err := client.LocalClient(cfg, method, params)
		if err != nil {
			exitError("Error calling API", err)
		}

		fmt.Println(resp)
		os.Exit(0)
	} else if *f.Discover {
		resp, err := client.LocalClient(cfg, models.MethodDiscoverDevices, "")
		if err != nil {
			exitError("Error discovering devices", err)
		}

		err = PrintDevices(os.Stdout, resp)
		if err != nil {
			exitError("Error decoding API response", err)
		}
		os.Exit(0)
	} else if *f.Capture != "" {
		data, err := json.Marshal(&models.CaptureParams{
			Finger: *f.Capture,
		})
		if err != nil {
			exitError("Error encoding params", err)
		}

		resp, err := client.LocalClient(cfg, models.MethodCaptureFingerprint, string(data))
		if err != nil {
			exitError("Error capturing fingerprint", err)
		}

		var cr models.CaptureResponse
		err = json.Unmarshal([]byte(resp), &cr)
		if err != nil {
			exitError("Error decoding API response", err)
		}

		fmt.Printf("Captured %s: %dx%d, quality %.2f\n", cr.Finger, cr.Width, cr.Height, cr.Quality)
		os.Exit(0)
	} else if *f.ExportHistory != "" {
		err := exportHistory(pl, cfg, *f.ExportHistory)
		if err != nil {
			exitError("Error exporting history", err)
		}

		fmt.Println("History written to", *f.ExportHistory)
		os.Exit(0)
	}
}

// Setup initializes the user config and logging. Returns a user config object.
func Setup(pl platforms.Platform, defaultConfig *config.UserConfig) *config.UserConfig {
	cfg, err := config.NewUserConfig(pl.ConfigFolder(), defaultConfig)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	err = utils.InitLogging(cfg, pl)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error initializing logging: %v\n", err)
		os.Exit(1)
	}

	return cfg
}
