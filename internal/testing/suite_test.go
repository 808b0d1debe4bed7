package testing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"vendingmachine/internal/api"
	"vendingmachine/internal/config"
	"vendingmachine/internal/data"
	"vendingmachine/internal/inventory"
	"vendingmachine/internal/machine"
	"vendingmachine/internal/middleware"
	"vendingmachine/internal/schedule"
)

// TestConfig holds configuration for test runs
type TestConfig struct {
	JournalPath string
	CatalogPath string
	TestDataDir string
	Env         map[string]string
}

// TestSuite runs the whole stack: env config, catalog file, journal, machine
// and HTTP surface, with the card countdown under manual control.
type TestSuite struct {
	Config    TestConfig
	Server    *httptest.Server
	Client    *http.Client
	Machine   *machine.Machine
	Journal   *data.Journal
	Scheduler *schedule.Manual
}

// testCatalog is written to disk so the suite goes through LoadCatalog.
var testCatalog = inventory.CatalogData{
	Products: []inventory.Product{
		{ID: "cola", Name: "Cola", Price: 1100, Quantity: 10},
		{ID: "water", Name: "Water", Price: 600, Quantity: 10},
		{ID: "coffee", Name: "Coffee", Price: 700, Quantity: 10},
		{ID: "gum", Name: "Gum", Price: 150, Quantity: 2},
	},
}

// NewTestSuite builds a suite. env entries override the machine's
// environment variables for this suite only.
func NewTestSuite(tb testing.TB, env map[string]string) *TestSuite {
	tb.Helper()

	testDir := tb.TempDir()
	catalogPath := filepath.Join(testDir, "catalog.json")
	if err := writeCatalog(catalogPath); err != nil {
		tb.Fatalf("Failed to create test catalog: %v", err)
	}

	cfg := TestConfig{
		JournalPath: filepath.Join(testDir, "journal.db"),
		CatalogPath: catalogPath,
		TestDataDir: testDir,
		Env:         env,
	}

	machineCfg, err := loadMachineConfig(tb, cfg)
	if err != nil {
		tb.Fatalf("Failed to load config: %v", err)
	}

	catalog, err := inventory.LoadCatalog(machineCfg.Machine.CatalogPath)
	if err != nil {
		tb.Fatalf("Failed to load test catalog: %v", err)
	}

	journal, err := data.OpenJournal(machineCfg.Journal.Path, machineCfg.Journal.Buffer)
	if err != nil {
		tb.Fatalf("Failed to open journal: %v", err)
	}

	sched := schedule.NewManual()
	m, err := machine.New(machine.Settings{
		Cash:    machineCfg.Machine.CashConfig(),
		Card:    machineCfg.Machine.CardConfig(),
		Catalog: catalog,
	}, machine.WithScheduler(sched), machine.WithRecorder(journal))
	if err != nil {
		journal.Close()
		tb.Fatalf("Failed to build machine: %v", err)
	}

	mux := http.NewServeMux()
	api.NewHandler(m, journal).Mount(mux)
	server := httptest.NewServer(middleware.CORS(machineCfg.Server.AllowedOrigin)(mux))

	suite := &TestSuite{
		Config:    cfg,
		Server:    server,
		Client:    &http.Client{Timeout: 30 * time.Second},
		Machine:   m,
		Journal:   journal,
		Scheduler: sched,
	}
	tb.Cleanup(suite.Cleanup)
	return suite
}

// loadMachineConfig runs the real env loader against the suite's settings.
func loadMachineConfig(tb testing.TB, cfg TestConfig) (config.Config, error) {
	tb.Setenv("VM_CATALOG_PATH", cfg.CatalogPath)
	tb.Setenv("VM_JOURNAL_PATH", cfg.JournalPath)
	tb.Setenv("ALLOWED_ORIGIN", "http://localhost:3000")
	for k, v := range cfg.Env {
		tb.Setenv(k, v)
	}
	return config.Load()
}

func writeCatalog(path string) error {
	raw, err := json.MarshalIndent(testCatalog, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0644)
}

// Cleanup releases everything the suite opened.
func (ts *TestSuite) Cleanup() {
	if ts.Server != nil {
		ts.Server.Close()
	}
	if ts.Machine != nil {
		ts.Machine.Close()
	}
	if ts.Journal != nil {
		ts.Journal.Close()
	}
}

// APIResult is a decoded response envelope.
type APIResult struct {
	Status    int
	Success   bool              `json:"success"`
	Data      json.RawMessage   `json:"data"`
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details"`
	RequestID string            `json:"request_id"`
}

// Decode unmarshals the data payload into v.
func (r APIResult) Decode(tb testing.TB, v interface{}) {
	tb.Helper()
	if err := json.Unmarshal(r.Data, v); err != nil {
		tb.Fatalf("Failed to decode %s: %v", string(r.Data), err)
	}
}

// Call sends a JSON request to the suite's server.
func (ts *TestSuite) Call(tb testing.TB, method, path string, body interface{}) APIResult {
	tb.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			tb.Fatalf("Failed to encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, ts.Server.URL+path, &buf)
	if err != nil {
		tb.Fatalf("Failed to build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := ts.Client.Do(req)
	if err != nil {
		tb.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	result := APIResult{Status: resp.StatusCode}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		tb.Fatalf("Failed to decode %s %s response: %v", method, path, err)
	}
	return result
}

// InsertMoney posts to /api/money and fails the test on error.
func (ts *TestSuite) InsertMoney(tb testing.TB, amounts ...int) {
	tb.Helper()
	for _, amount := range amounts {
		res := ts.Call(tb, http.MethodPost, "/api/money", map[string]interface{}{"amount": amount, "currency": "KRW"})
		if res.Status != http.StatusOK {
			tb.Fatalf("Insert %d failed: %d %s %s", amount, res.Status, res.Code, res.Message)
		}
	}
}

// State fetches /api/state.
func (ts *TestSuite) State(tb testing.TB) machine.State {
	tb.Helper()
	res := ts.Call(tb, http.MethodGet, "/api/state", nil)
	if res.Status != http.StatusOK {
		tb.Fatalf("State failed: %d %s", res.Status, res.Message)
	}
	var st machine.State
	res.Decode(tb, &st)
	return st
}

// FlushJournal waits for queued journal writes.
func (ts *TestSuite) FlushJournal(tb testing.TB) {
	tb.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ts.Journal.Flush(ctx); err != nil {
		tb.Fatalf("Failed to flush journal: %v", err)
	}
}

// AssertStatus checks an API result's status and error code.
func (ts *TestSuite) AssertStatus(tb testing.TB, res APIResult, status int, code string) {
	tb.Helper()
	if res.Status != status || res.Code != code {
		tb.Errorf("Expected %d %q, got %d %q (%s)", status, code, res.Status, res.Code, res.Message)
	}
}

// AssertNoError fails the test if err is non-nil.
func (ts *TestSuite) AssertNoError(tb testing.TB, err error) {
	tb.Helper()
	if err != nil {
		tb.Fatalf("Unexpected error: %v", err)
	}
}

func (ts *TestSuite) String() string {
	return fmt.Sprintf("TestSuite(%s)", ts.Config.TestDataDir)
}
