// go-canon
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-canon.
//
// go-canon is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-canon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-canon; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package canon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ZaparooProject/go-canon/detection"
	"github.com/ZaparooProject/go-canon/internal/syncutil"
)

// CameraConfig contains configuration options for the Camera
type CameraConfig struct {
	// RetryConfig configures retries of Init. Nil disables retrying.
	RetryConfig *RetryConfig
	// Status receives informational progress messages
	Status StatusFunc
}

// DefaultCameraConfig returns default camera configuration
func DefaultCameraConfig() *CameraConfig {
	return &CameraConfig{
		RetryConfig: DefaultRetryConfig(),
	}
}

// Option configures a Camera.
type Option func(*Camera) error

// WithRetryConfig sets the retry policy used by Init.
func WithRetryConfig(config *RetryConfig) Option {
	return func(c *Camera) error {
		c.config.RetryConfig = config
		return nil
	}
}

// WithStatus installs a status message sink.
func WithStatus(fn StatusFunc) Option {
	return func(c *Camera) error {
		c.config.Status = fn
		return nil
	}
}

// Camera is a connected Canon camera.
//
// Camera is safe for concurrent use: every call holds one mutex for its
// whole duration, so at most one protocol exchange is in flight.
type Camera struct {
	engine   Engine
	config   *CameraConfig
	identity *Identity
	drive    string
	mu       syncutil.Mutex
}

// New wraps an engine. The camera is not usable until Init succeeds.
func New(engine Engine, opts ...Option) (*Camera, error) {
	if engine == nil {
		return nil, fmt.Errorf("%w: nil engine", ErrInvalidParameter)
	}
	c := &Camera{
		engine: engine,
		config: DefaultCameraConfig(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Camera) status(format string, args ...any) {
	if c.config.Status != nil {
		c.config.Status(fmt.Sprintf(format, args...))
	}
}

// EngineFactory creates an engine for a port path.
type EngineFactory func(path string) (Engine, error)

// EngineFromDeviceFactory creates an engine for a detected device.
type EngineFromDeviceFactory func(device detection.DeviceInfo) (Engine, error)

// ConnectOption represents a functional option for ConnectCamera
type ConnectOption func(*connectConfig) error

type connectConfig struct {
	engineFactory       EngineFactory
	engineDeviceFactory EngineFromDeviceFactory
	deviceDetector      func(context.Context, *detection.Options) ([]detection.DeviceInfo, error)
	cameraOptions       []Option
	timeout             time.Duration
	autoDetect          bool
	connectionRetries   int
}

// WithAutoDetection enables automatic camera detection instead of using a specific path
func WithAutoDetection() ConnectOption {
	return func(c *connectConfig) error {
		c.autoDetect = true
		return nil
	}
}

// WithCameraOptions adds camera-level options
func WithCameraOptions(opts ...Option) ConnectOption {
	return func(c *connectConfig) error {
		c.cameraOptions = append(c.cameraOptions, opts...)
		return nil
	}
}

// WithConnectTimeout bounds the whole connection, including all retries
func WithConnectTimeout(timeout time.Duration) ConnectOption {
	return func(c *connectConfig) error {
		c.timeout = timeout
		return nil
	}
}

// WithEngineFactory sets the engine factory used for explicit paths
func WithEngineFactory(factory EngineFactory) ConnectOption {
	return func(c *connectConfig) error {
		c.engineFactory = factory
		return nil
	}
}

// WithEngineFromDeviceFactory sets the engine factory used for detected devices
func WithEngineFromDeviceFactory(factory EngineFromDeviceFactory) ConnectOption {
	return func(c *connectConfig) error {
		c.engineDeviceFactory = factory
		return nil
	}
}

// WithConnectionRetries sets the number of connection attempts
func WithConnectionRetries(maxAttempts int) ConnectOption {
	return func(c *connectConfig) error {
		if maxAttempts < 1 {
			return fmt.Errorf("connection retries must be at least 1, got %d", maxAttempts)
		}
		c.connectionRetries = maxAttempts
		return nil
	}
}

// WithDeviceDetector sets a custom detector for auto-detection
func WithDeviceDetector(
	detector func(context.Context, *detection.Options) ([]detection.DeviceInfo, error),
) ConnectOption {
	return func(c *connectConfig) error {
		c.deviceDetector = detector
		return nil
	}
}

func applyConnectOptions(opts []ConnectOption) (*connectConfig, error) {
	config := &connectConfig{
		timeout:           ConnectionRetryTimeout,
		connectionRetries: DefaultConnectionRetries,
	}
	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, fmt.Errorf("failed to apply connect option: %w", err)
		}
	}
	return config, nil
}

// ConnectCamera creates an engine, wraps it and runs Init.
//
//	// Connect to a specific port
//	cam, err := canon.ConnectCamera(ctx, "/dev/ttyS0", canon.WithEngineFactory(serialFactory))
//
//	// Auto-detect
//	cam, err := canon.ConnectCamera(ctx, "", canon.WithAutoDetection(),
//		canon.WithEngineFromDeviceFactory(factory))
func ConnectCamera(ctx context.Context, path string, opts ...ConnectOption) (*Camera, error) {
	config, err := applyConnectOptions(opts)
	if err != nil {
		return nil, err
	}
	if config.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.timeout)
		defer cancel()
	}

	engine, err := createEngine(ctx, path, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	camOpts := append([]Option{WithRetryConfig(connectRetryConfig(path, config))}, config.cameraOptions...)
	cam, err := New(engine, camOpts...)
	if err != nil {
		_ = engine.Close()
		return nil, err
	}
	if err := cam.Init(ctx); err != nil {
		_ = engine.Close()
		return nil, err
	}
	return cam, nil
}

// connectRetryConfig makes auto-detected connections single-shot; the
// detected device may simply not be a camera.
func connectRetryConfig(path string, config *connectConfig) *RetryConfig {
	if config.autoDetect || path == "" {
		return nil
	}
	rc := DefaultRetryConfig()
	rc.MaxAttempts = config.connectionRetries
	rc.RetryTimeout = 0
	return rc
}

func createEngine(ctx context.Context, path string, config *connectConfig) (Engine, error) {
	if config.autoDetect || path == "" {
		return createAutoDetectedEngine(ctx, config.engineDeviceFactory, config.deviceDetector)
	}
	if config.engineFactory == nil {
		return nil, errors.New("engine factory not provided")
	}
	engine, err := config.engineFactory(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine for path %s: %w", path, err)
	}
	return engine, nil
}

func createAutoDetectedEngine(
	ctx context.Context,
	factory EngineFromDeviceFactory,
	detector func(context.Context, *detection.Options) ([]detection.DeviceInfo, error),
) (Engine, error) {
	if factory == nil {
		return nil, errors.New("engine device factory not provided")
	}
	opts := detection.DefaultOptions()
	if detector == nil {
		detector = detection.DetectAll
	}
	devices, err := detector(ctx, &opts)
	if err != nil {
		return nil, fmt.Errorf("failed to detect cameras: %w", err)
	}
	best, ok := detection.Best(devices)
	if !ok {
		return nil, ErrCameraNotFound
	}
	Debugf("auto-detected %s", best)
	return factory(best)
}

// Init brings the link up and identifies the camera, retrying transient
// failures according to the retry configuration.
func (c *Camera) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.status("Connecting to camera over %s...", c.engine.Type())
	rc := &RetryConfig{}
	if c.config.RetryConfig != nil {
		*rc = *c.config.RetryConfig
		rc.Retryable = func(err error) bool { return IsRetryable(err) || Classify(err) == KindDesync }
		onRetry := rc.OnRetry
		rc.OnRetry = func(attempt int, err error, wait time.Duration) {
			c.status("Attempt %d of %d failed (%v), retrying...", attempt, rc.MaxAttempts, err)
			if onRetry != nil {
				onRetry(attempt, err, wait)
			}
		}
	}
	err := RetryWithConfig(ctx, rc, func() error {
		if err := c.engine.Init(ctx); err != nil {
			return err
		}
		id, err := c.engine.Identify(ctx)
		if err != nil {
			return err
		}
		c.identity = id
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to initialize camera: %w", err)
	}
	c.drive = ""
	c.status("Connected to %s", c.identity.CameraName)
	return nil
}

// Engine returns the underlying protocol engine.
func (c *Camera) Engine() Engine {
	return c.engine
}

// Identity returns the identity read during Init.
func (c *Camera) Identity() *Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// Model returns the camera model, or nil before Init.
func (c *Camera) Model() *Model {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.Model()
}

// cameraPath resolves a slash path against the cached drive name. Paths
// already in camera form pass through.
func (c *Camera) cameraPath(ctx context.Context, path string) (string, error) {
	if len(path) >= 2 && path[1] == ':' {
		return path, nil
	}
	if c.drive == "" {
		drive, err := c.engine.DiskName(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to read drive name: %w", err)
		}
		c.drive = drive
	}
	return ToCameraPath(c.drive, path)
}

// GetFile downloads a file.
func (c *Camera) GetFile(ctx context.Context, path string, progress ProgressFunc) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, err := c.cameraPath(ctx, path)
	if err != nil {
		return nil, err
	}
	return c.engine.GetFile(ctx, p, progress)
}

// GetThumbnail downloads the thumbnail of an image file.
func (c *Camera) GetThumbnail(ctx context.Context, path string, progress ProgressFunc) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, err := c.cameraPath(ctx, path)
	if err != nil {
		return nil, err
	}
	return c.engine.GetThumbnail(ctx, p, progress)
}

// DeleteFile removes a file.
func (c *Camera) DeleteFile(ctx context.Context, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, err := c.cameraPath(ctx, path)
	if err != nil {
		return err
	}
	dir, name := SplitCameraPath(p)
	return c.engine.DeleteFile(ctx, dir, name)
}

// SetFileAttributes replaces the attribute bits of a file.
func (c *Camera) SetFileAttributes(ctx context.Context, path string, attrs Attributes) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, err := c.cameraPath(ctx, path)
	if err != nil {
		return err
	}
	dir, name := SplitCameraPath(p)
	return c.engine.SetFileAttributes(ctx, dir, name, attrs)
}

// ListDirectory lists a directory.
func (c *Camera) ListDirectory(ctx context.Context, path string) ([]DirEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, err := c.cameraPath(ctx, path)
	if err != nil {
		return nil, err
	}
	return c.engine.ListDirectory(ctx, p)
}

// MakeDir creates a directory.
func (c *Camera) MakeDir(ctx context.Context, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, err := c.cameraPath(ctx, path)
	if err != nil {
		return err
	}
	return c.engine.MakeDir(ctx, p)
}

// RemoveDir removes an empty directory.
func (c *Camera) RemoveDir(ctx context.Context, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, err := c.cameraPath(ctx, path)
	if err != nil {
		return err
	}
	return c.engine.RemoveDir(ctx, p)
}

// DiskName returns the storage drive name.
func (c *Camera) DiskName(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	name, err := c.engine.DiskName(ctx)
	if err != nil {
		return "", err
	}
	c.drive = name
	return name, nil
}

// DiskInfo reports capacity and free space of a drive. An empty disk
// means the camera's own drive.
func (c *Camera) DiskInfo(ctx context.Context, disk string) (*DiskInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if disk == "" {
		if c.drive == "" {
			name, err := c.engine.DiskName(ctx)
			if err != nil {
				return nil, err
			}
			c.drive = name
		}
		disk = c.drive
	}
	return c.engine.DiskInfo(ctx, disk)
}

// OwnerName reads the owner string.
func (c *Camera) OwnerName(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.OwnerName(ctx)
}

// SetOwnerName writes the owner string.
func (c *Camera) SetOwnerName(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.engine.SetOwnerName(ctx, name); err != nil {
		return err
	}
	if c.identity != nil {
		c.identity.Owner = name
	}
	return nil
}

// Time reads the camera clock.
func (c *Camera) Time(ctx context.Context) (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.Time(ctx)
}

// SetTime sets the camera clock.
func (c *Camera) SetTime(ctx context.Context, t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.SetTime(ctx, t)
}

// SyncTime sets the camera clock to the host clock.
func (c *Camera) SyncTime(ctx context.Context) error {
	return c.SetTime(ctx, time.Now())
}

// Battery reads the power status.
func (c *Camera) Battery(ctx context.Context) (BatteryStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.Battery(ctx)
}

// LockKeys locks the camera's buttons.
func (c *Camera) LockKeys(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.LockKeys(ctx)
}

// UnlockKeys releases the camera's buttons.
func (c *Camera) UnlockKeys(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.UnlockKeys(ctx)
}

// Capture takes a picture.
func (c *Camera) Capture(ctx context.Context, mode TransferMode) (*CaptureSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m := c.engine.Model(); m != nil && m.Capture == CaptureNone {
		return nil, fmt.Errorf("%w: %s cannot capture remotely", ErrNotSupported, m.Name)
	}
	c.status("Capturing...")
	return c.engine.Capture(ctx, mode)
}

// FetchImage retrieves one image of a capture.
func (c *Camera) FetchImage(
	ctx context.Context, session *CaptureSession, kind ImageKind, progress ProgressFunc,
) ([]byte, error) {
	if session == nil {
		return nil, ErrNoCapture
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.FetchImage(ctx, session, kind, progress)
}

// FetchThumbnail retrieves the thumbnail of a capture.
func (c *Camera) FetchThumbnail(ctx context.Context, session *CaptureSession, progress ProgressFunc) ([]byte, error) {
	return c.FetchImage(ctx, session, ImageThumbnail, progress)
}

// FetchFullImage retrieves the full image of a capture.
func (c *Camera) FetchFullImage(ctx context.Context, session *CaptureSession, progress ProgressFunc) ([]byte, error) {
	return c.FetchImage(ctx, session, ImageFull, progress)
}

// FetchSecondaryImage retrieves the second full image, such as the JPEG
// of a RAW+JPEG capture.
func (c *Camera) FetchSecondaryImage(
	ctx context.Context, session *CaptureSession, progress ProgressFunc,
) ([]byte, error) {
	return c.FetchImage(ctx, session, ImageSecondary, progress)
}

// Abort closes the transport without waiting for the call in flight, which
// fails with ErrTransportClosed. The protocol has no abort message, so this
// is the only way to stop an exchange early. Close the camera afterwards.
func (c *Camera) Abort() error {
	if err := c.engine.Abort(); err != nil {
		return fmt.Errorf("failed to abort: %w", err)
	}
	return nil
}

// Close closes the camera connection
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.engine.Close(); err != nil {
		return fmt.Errorf("failed to close engine: %w", err)
	}
	return nil
}
