// Package statusfanout publishes bundle lifecycle events to Firestore
// for real-time UI updates, per spec §4.12. It is disabled unless
// FIRESTORE_ENABLED is set, and a publish failure is logged and
// swallowed rather than propagated: status fan-out must never block
// the bundling pipeline.
package statusfanout

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	gcpfirestore "cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"
)

// Stage identifies a point in the upload/bundling pipeline an event
// reports on.
type Stage string

const (
	StageReceived       Stage = "received"
	StagePlanned        Stage = "planned"
	StagePrepared       Stage = "prepared"
	StagePosted         Stage = "posted"
	StageSeeded         Stage = "seeded"
	StageVerified       Stage = "verified"
	StageOffsetsWritten Stage = "offsets_written"
	StageOpticalPosted  Stage = "optical_posted"
	StageUnbundled      Stage = "unbundled"
	StageConfirmed      Stage = "confirmed"
	StageDropped        Stage = "dropped"
)

// Event describes a single lifecycle transition for an item or bundle.
type Event struct {
	BundleID  string
	ItemID    string
	Stage     Stage
	Timestamp time.Time
	Data      map[string]interface{}
}

// Client wraps a Firestore client used to fan bundle lifecycle events
// out to the UI. The zero value behaves as a disabled client.
type Client struct {
	app       *firebase.App
	firestore *gcpfirestore.Client
	projectID string
	logger    *log.Logger
	enabled   bool
	mu        sync.RWMutex
}

// Config holds configuration for the status fan-out client.
type Config struct {
	// ProjectID is the Firebase/GCP project ID.
	ProjectID string

	// CredentialsFile is the path to the service account JSON file. If
	// empty, uses GOOGLE_APPLICATION_CREDENTIALS.
	CredentialsFile string

	// Enabled controls whether Firestore writes actually happen. When
	// false every Publish call is a no-op.
	Enabled bool

	Logger *log.Logger
}

// DefaultConfig builds a Config from environment variables.
func DefaultConfig() *Config {
	return &Config{
		ProjectID:       os.Getenv("FIREBASE_PROJECT_ID"),
		CredentialsFile: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		Enabled:         getEnvBool("FIRESTORE_ENABLED", false),
		Logger:          log.New(os.Stdout, "[statusfanout] ", log.LstdFlags),
	}
}

// NewClient builds a status fan-out client. When cfg.Enabled is false,
// it returns a client that no-ops every Publish call without touching
// the network.
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stdout, "[statusfanout] ", log.LstdFlags)
	}

	c := &Client{
		projectID: cfg.ProjectID,
		logger:    cfg.Logger,
		enabled:   cfg.Enabled,
	}

	if !cfg.Enabled {
		cfg.Logger.Println("status fan-out disabled - running in no-op mode")
		return c, nil
	}

	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("statusfanout: FIREBASE_PROJECT_ID is required when enabled")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("statusfanout: init firebase app: %w", err)
	}
	fs, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("statusfanout: init firestore client: %w", err)
	}

	c.app = app
	c.firestore = fs
	cfg.Logger.Printf("status fan-out initialized for project: %s", cfg.ProjectID)
	return c, nil
}

// IsEnabled reports whether the client performs real Firestore writes.
func (c *Client) IsEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled && c.firestore != nil
}

// Close releases the underlying Firestore connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.firestore != nil {
		return c.firestore.Close()
	}
	return nil
}

// Publish writes ev to Firestore at bundles/{BundleID}/events/{auto}.
// Errors are logged, never returned: callers in the bundling pipeline
// must not stall or retry on a fan-out failure.
func (c *Client) Publish(ctx context.Context, ev Event) {
	if !c.IsEnabled() {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	doc := map[string]interface{}{
		"bundleId":  ev.BundleID,
		"itemId":    ev.ItemID,
		"stage":     string(ev.Stage),
		"timestamp": ev.Timestamp,
		"data":      ev.Data,
	}

	coll := c.firestore.Collection(fmt.Sprintf("bundles/%s/events", ev.BundleID))
	if _, _, err := coll.Add(ctx, doc); err != nil {
		c.logger.Printf("publish failed: bundle=%s item=%s stage=%s err=%v", ev.BundleID, ev.ItemID, ev.Stage, err)
	}
}

func getEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val == "true" || val == "1" || val == "yes"
}
