// solunaris - in-game clock and server status for an ARK-style game server
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/jrobinson2112-cmyk/solunaris-time-bot/internal/api"
	"github.com/jrobinson2112-cmyk/solunaris-time-bot/internal/auth"
	"github.com/jrobinson2112-cmyk/solunaris-time-bot/internal/clock"
	"github.com/jrobinson2112-cmyk/solunaris-time-bot/internal/config"
	"github.com/jrobinson2112-cmyk/solunaris-time-bot/internal/domain"
	"github.com/jrobinson2112-cmyk/solunaris-time-bot/internal/storage"
)

var version = "dev"

const defaultConfigPath = "/etc/solunaris/config.yml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "time":
		err = cmdTime(os.Args[2:])
	case "status":
		err = cmdStatus(os.Args[2:])
	case "settime":
		err = cmdSetTime(os.Args[2:])
	case "rcon":
		err = cmdRcon(os.Args[2:])
	case "hash-password":
		err = cmdHashPassword()
	case "import-state":
		err = cmdImportState(os.Args[2:])
	case "export-state":
		err = cmdExportState(os.Args[2:])
	case "calibrations":
		err = cmdCalibrations(os.Args[2:])
	case "version":
		fmt.Printf("solunaris %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: solunaris <command> [options] [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                              Run the clock, status poller and HTTP API")
	fmt.Println("  time                               Show the current in-game time")
	fmt.Println("  status                             Show the game server status and roster")
	fmt.Println("  settime --year Y --day D --hour H --minute M")
	fmt.Println("                                     Recalibrate the clock (admin)")
	fmt.Println("  rcon <command...>                  Run an RCON command through the API (admin)")
	fmt.Println("  hash-password                      Hash a password for the config users list")
	fmt.Println("  import-state <file>                Load a state.json calibration into the database")
	fmt.Println("  export-state <file>                Write the stored calibration to a state.json file")
	fmt.Println("  calibrations [--limit N]           List recent calibrations from the database")
	fmt.Println("  version                            Print the version")
	fmt.Println()
	fmt.Println("Common options:")
	fmt.Printf("  --config PATH                      Config file (default %s)\n", defaultConfigPath)
	fmt.Println("  --url URL                          Base URL of a running server")
}

// CLI helper variables
var (
	baseURL = "http://localhost:8080"
	dbPath  string
)

// clientFlags registers the flags shared by the API client commands
func clientFlags(name string) (*flag.FlagSet, *string, *string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	url := fs.String("url", "", "base URL of the solunaris server")
	return fs, configPath, url
}

// loadCLIConfigFromFlags loads config using pre-parsed flag values
func loadCLIConfigFromFlags(configPath, url string) *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config from %s: %v\n", configPath, err)
		cfg = config.Default()
	}

	dbPath = cfg.Database.Path
	if url != "" {
		baseURL = url
	} else {
		baseURL = fmt.Sprintf("http://%s:%d", cfg.Server.ListenAddr, cfg.Server.HTTPPort)
	}
	return cfg
}

func cmdTime(args []string) error {
	fs, configPath, url := clientFlags("time")
	fs.Parse(args)
	loadCLIConfigFromFlags(*configPath, *url)

	var resp api.TimeResponse
	if err := getJSON("/api/time", &resp); err != nil {
		return err
	}
	if !resp.Calibrated {
		fmt.Println("Clock is not calibrated")
		return nil
	}
	fmt.Println(resp.Title)
	return nil
}

func cmdStatus(args []string) error {
	fs, configPath, url := clientFlags("status")
	fs.Parse(args)
	loadCLIConfigFromFlags(*configPath, *url)

	var resp api.StatusResponse
	if err := getJSON("/api/status", &resp); err != nil {
		return err
	}
	fmt.Println(resp.Title)
	if resp.Status == nil {
		return nil
	}
	if resp.Status.Error != "" {
		fmt.Printf("Last error: %s\n", resp.Status.Error)
	}
	if len(resp.Status.Players) == 0 {
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tNAME\tID")
	fmt.Fprintln(w, "-\t----\t--")
	for _, p := range resp.Status.Players {
		fmt.Fprintf(w, "%d\t%s\t%s\n", p.Index, p.Name, p.ID)
	}
	return w.Flush()
}

func cmdSetTime(args []string) error {
	fs, configPath, url := clientFlags("settime")
	username := fs.String("user", "admin", "admin username")
	year := fs.Int("year", 0, "in-game year")
	day := fs.Int("day", 0, "in-game day of year (1-365)")
	hour := fs.Int("hour", -1, "in-game hour (0-23)")
	minute := fs.Int("minute", -1, "in-game minute (0-59)")
	fs.Parse(args)
	loadCLIConfigFromFlags(*configPath, *url)

	if err := clock.ValidateCalibration(*year, *day, *hour, *minute); err != nil {
		return err
	}

	token, err := login(*username)
	if err != nil {
		return err
	}

	req := api.CalibrationRequest{Year: year, Day: day, Hour: hour, Minute: minute}
	var resp api.CalibrationResponse
	if err := doJSON(http.MethodPut, "/api/calibration", token, req, &resp); err != nil {
		return err
	}
	c := resp.Calibration
	fmt.Printf("Calibrated to Year %d, Day %d, %02d:%02d\n", c.Year, c.Day, c.Hour, c.Minute)
	return nil
}

func cmdRcon(args []string) error {
	fs, configPath, url := clientFlags("rcon")
	username := fs.String("user", "admin", "admin username")
	fs.Parse(args)
	loadCLIConfigFromFlags(*configPath, *url)

	command := strings.Join(fs.Args(), " ")
	if strings.TrimSpace(command) == "" {
		return errors.New("command required")
	}

	token, err := login(*username)
	if err != nil {
		return err
	}

	var resp api.RconResponse
	if err := doJSON(http.MethodPost, "/api/rcon", token, api.RconRequest{Command: command}, &resp); err != nil {
		return err
	}
	fmt.Println(strings.TrimRight(resp.Output, "\n"))
	return nil
}

func cmdHashPassword() error {
	fmt.Print("Enter password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}

	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}

	fmt.Print("Confirm password: ")
	confirm, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}

	if string(password) != string(confirm) {
		return fmt.Errorf("passwords do not match")
	}

	hash, err := auth.HashPassword(string(password))
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	fmt.Println(hash)
	return nil
}

func openStore(args []string, name string) (*storage.Store, []string, error) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	fs.Parse(args)
	loadCLIConfigFromFlags(*configPath, "")

	store, err := storage.New(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	return store, fs.Args(), nil
}

func cmdImportState(args []string) error {
	store, rest, err := openStore(args, "import-state")
	if err != nil {
		return err
	}
	defer store.Close()
	if len(rest) != 1 {
		return errors.New("usage: solunaris import-state <file>")
	}

	rec, err := storage.StateFile{Path: rest[0]}.Load()
	if err != nil {
		return err
	}
	if err := clock.ValidateCalibration(rec.Year, rec.Day, rec.Hour, rec.Minute); err != nil {
		return err
	}

	ctx := storage.WithCalibrationSource(context.Background(), domain.CalibrationSourceImport)
	if err := store.SaveCalibration(ctx, rec.Point()); err != nil {
		return err
	}
	fmt.Printf("Imported Year %d, Day %d, %02d:%02d (anchored at %s)\n",
		rec.Year, rec.Day, rec.Hour, rec.Minute, rec.Point().RealTime().Format(time.RFC3339))
	fmt.Println("Restart the server to pick up the new calibration.")
	return nil
}

func cmdExportState(args []string) error {
	store, rest, err := openStore(args, "export-state")
	if err != nil {
		return err
	}
	defer store.Close()
	if len(rest) != 1 {
		return errors.New("usage: solunaris export-state <file>")
	}

	point, err := store.LoadCalibration(context.Background())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return errors.New("no calibration stored")
		}
		return err
	}
	if err := (storage.StateFile{Path: rest[0]}).SaveCalibration(context.Background(), point); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", rest[0])
	return nil
}

func cmdCalibrations(args []string) error {
	fs := flag.NewFlagSet("calibrations", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	limit := fs.Int("limit", 20, "number of entries to show")
	fs.Parse(args)
	loadCLIConfigFromFlags(*configPath, "")

	store, err := storage.New(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	entries, err := store.CalibrationHistory(context.Background(), *limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RECORDED\tSOURCE\tYEAR\tDAY\tTIME")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%02d:%02d\n",
			e.RecordedAt.Local().Format("2006-01-02 15:04:05"), e.Source, e.Year, e.Day, e.Hour, e.Minute)
	}
	return w.Flush()
}

// login prompts for a password and returns a bearer token
func login(username string) (string, error) {
	fmt.Printf("Password for %s: ", username)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	var resp api.LoginResponse
	req := api.LoginRequest{Username: username, Password: string(password)}
	if err := doJSON(http.MethodPost, "/api/auth/login", "", req, &resp); err != nil {
		return "", err
	}
	if !resp.IsAdmin {
		return "", fmt.Errorf("user %s is not an administrator", username)
	}
	return resp.Token, nil
}

func getJSON(path string, target interface{}) error {
	return doJSON(http.MethodGet, path, "", nil, target)
}

func doJSON(method, path, token string, body, target interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	return json.NewDecoder(resp.Body).Decode(target)
}
