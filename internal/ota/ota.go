// Package ota stages firmware updates and validates the first boot
// after one. The daemon does not restart itself; it stages the new
// image, flags the store, and leaves the restart to the supervisor.
package ota

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/Janta-Power/Janta-Power/internal/debug"
	"github.com/Janta-Power/Janta-Power/internal/store"
	"github.com/Janta-Power/Janta-Power/internal/telemetry"
)

// Store keys shared with the main boot sequence.
const (
	keyVersion   = "version"
	keyFirstBoot = "first_boot"
)

const bootAttempts = 3

// ErrChecksum is returned when a downloaded image does not match the
// advertised digest or size.
var ErrChecksum = errors.New("ota: image checksum mismatch")

// Metadata is the update descriptor served at the metadata URL.
type Metadata struct {
	Version     string `json:"version"`
	Size        int64  `json:"size"`
	DownloadURL string `json:"download_url"`
	SHA256      string `json:"sha256"`
}

// Updater checks for, downloads and stages firmware images.
type Updater struct {
	client      *http.Client
	metadataURL string
	stagePath   string
	running     string
	kv          store.KV
	pub         telemetry.Publisher
	topics      telemetry.Topics
}

// New builds an updater. The running version short-circuits a check
// when the store has no version key yet.
func New(metadataURL, stagePath, runningVersion string, kv store.KV, pub telemetry.Publisher, topics telemetry.Topics) *Updater {
	return &Updater{
		client:      &http.Client{Timeout: 5 * time.Minute},
		metadataURL: metadataURL,
		stagePath:   stagePath,
		running:     runningVersion,
		kv:          kv,
		pub:         pub,
		topics:      topics,
	}
}

// Check fetches the metadata and, when a new version is advertised,
// stages the image. Progress goes to the firmware status topic.
func (u *Updater) Check(ctx context.Context) error {
	md, err := u.fetchMetadata(ctx)
	if err != nil {
		return err
	}

	current, err := u.kv.GetStr(keyVersion)
	if errors.Is(err, store.ErrNotFound) {
		current = u.running
	} else if err != nil {
		return fmt.Errorf("reading version: %w", err)
	}
	if md.Version == current {
		debug.Verbose("OTA: %s is current", current)
		return nil
	}

	debug.Info("OTA: staging %s (running %s)", md.Version, current)
	u.status(fmt.Sprintf("downloading %s", md.Version))

	if err := u.stage(ctx, md); err != nil {
		u.status(fmt.Sprintf("download of %s failed", md.Version))
		return err
	}

	if err := u.kv.SetStr(keyVersion, md.Version); err != nil {
		return fmt.Errorf("persisting version: %w", err)
	}
	if err := u.kv.SetU8(keyFirstBoot, 1); err != nil {
		return fmt.Errorf("persisting first-boot flag: %w", err)
	}

	u.status(fmt.Sprintf("staged %s, restart required", md.Version))
	return nil
}

func (u *Updater) fetchMetadata(ctx context.Context) (*Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.metadataURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building metadata request: %w", err)
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching metadata: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching metadata: unexpected status %s", resp.Status)
	}
	var md Metadata
	if err := json.NewDecoder(resp.Body).Decode(&md); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}
	if md.Version == "" || md.DownloadURL == "" {
		return nil, fmt.Errorf("metadata incomplete: version %q, url %q", md.Version, md.DownloadURL)
	}
	return &md, nil
}

// stage streams the image to a temp file next to the stage path,
// verifying the digest and size before the rename makes it visible.
func (u *Updater) stage(ctx context.Context, md *Metadata) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, md.DownloadURL, nil)
	if err != nil {
		return fmt.Errorf("building download request: %w", err)
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("downloading image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("downloading image: unexpected status %s", resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(u.stagePath), ".firmware-*")
	if err != nil {
		return fmt.Errorf("creating staging file: %w", err)
	}
	defer os.Remove(tmp.Name())

	hash := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, hash), resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("writing image: %w", err)
	}

	if md.Size > 0 && n != md.Size {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrChecksum, n, md.Size)
	}
	if sum := hex.EncodeToString(hash.Sum(nil)); sum != md.SHA256 {
		return fmt.Errorf("%w: got %s, want %s", ErrChecksum, sum, md.SHA256)
	}

	if err := os.Rename(tmp.Name(), u.stagePath); err != nil {
		return fmt.Errorf("staging image: %w", err)
	}
	return nil
}

func (u *Updater) status(msg string) {
	if err := u.pub.Publish(u.topics.FirmwareStatus(), msg); err != nil {
		debug.Error(fmt.Errorf("ota status: %w", err))
	}
}

// ValidateBoot announces the running version and, on the first boot
// after an update, runs the boot check: the boot topic must accept a
// message within a few attempts before the update is considered good.
// On failure the first-boot flag stays set so the next boot retries.
func ValidateBoot(kv store.KV, pub telemetry.Publisher, topics telemetry.Topics, runningVersion string) error {
	if err := pub.Publish(topics.FirmwareVersion(), runningVersion); err != nil {
		debug.Error(fmt.Errorf("publishing version: %w", err))
	}

	fb, err := kv.GetU8(keyFirstBoot)
	if errors.Is(err, store.ErrNotFound) || (err == nil && fb == 0) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading first-boot flag: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= bootAttempts; attempt++ {
		if lastErr = pub.Publish(topics.Boot(), telemetry.BootCheck); lastErr == nil {
			if err := kv.SetU8(keyFirstBoot, 0); err != nil {
				return fmt.Errorf("clearing first-boot flag: %w", err)
			}
			if err := pub.Publish(topics.FirmwareStatus(), "validated"); err != nil {
				debug.Error(fmt.Errorf("publishing validation: %w", err))
			}
			debug.Info("Boot validated (%s)", runningVersion)
			return nil
		}
		debug.Error(fmt.Errorf("boot check attempt %d: %w", attempt, lastErr))
	}

	if err := pub.Publish(topics.FirmwareStatus(), "validation failed"); err != nil {
		debug.Error(fmt.Errorf("publishing validation failure: %w", err))
	}
	return fmt.Errorf("boot check failed after %d attempts: %w", bootAttempts, lastErr)
}
