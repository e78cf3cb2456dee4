// Package types provides core types and configurations for LayerForge
package types

import (
	"fmt"
	"sort"
	"time"
)

// RunStatus represents the lifecycle state of one generation run
type RunStatus string

const (
	RunStatusIdle       RunStatus = "idle"
	RunStatusValidating RunStatus = "validating"
	RunStatusRunning    RunStatus = "running"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusCancelled  RunStatus = "cancelled"
	RunStatusFailed     RunStatus = "failed"
)

// DeliveryMode represents how artifacts are handed back to the caller
type DeliveryMode string

const (
	DeliveryModeStreaming DeliveryMode = "streaming"
	DeliveryModeChunked   DeliveryMode = "chunked"
)

// WorkerState represents the health state of a pool worker
type WorkerState string

const (
	WorkerStateInitializing WorkerState = "initializing"
	WorkerStateHealthy      WorkerState = "healthy"
	WorkerStateDegraded     WorkerState = "degraded"
	WorkerStateUnresponsive WorkerState = "unresponsive"
	WorkerStateRemoved      WorkerState = "removed"
)

// TaskComplexity classifies how heavy a generation task is expected to be
type TaskComplexity string

const (
	TaskComplexityLight    TaskComplexity = "light"
	TaskComplexityModerate TaskComplexity = "moderate"
	TaskComplexityHeavy    TaskComplexity = "heavy"
)

// ImageFormat represents the encoding of a rendered artifact
type ImageFormat string

const (
	ImageFormatPNG  ImageFormat = "png"
	ImageFormatJPEG ImageFormat = "jpeg"
)

// LogLevel represents logging verbosity levels
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// CompatibilityRule constrains which traits a ruler trait tolerates in a
// target layer. A forbidden match always overrides the allowed whitelist;
// an empty Allowed list means the target layer is unrestricted.
type CompatibilityRule struct {
	TargetLayer int   `json:"targetLayer" yaml:"targetLayer"`
	Forbidden   []int `json:"forbidden,omitempty" yaml:"forbidden,omitempty"`
	Allowed     []int `json:"allowed,omitempty" yaml:"allowed,omitempty"`
}

// Permits reports whether the rule tolerates the given trait id in its
// target layer.
func (r *CompatibilityRule) Permits(traitID int) bool {
	for _, id := range r.Forbidden {
		if id == traitID {
			return false
		}
	}
	if len(r.Allowed) == 0 {
		return true
	}
	for _, id := range r.Allowed {
		if id == traitID {
			return true
		}
	}
	return false
}

// Trait is one visual option within a layer
type Trait struct {
	ID      int                 `json:"id" yaml:"id"`
	Name    string              `json:"name" yaml:"name"`
	Weight  int                 `json:"weight,omitempty" yaml:"weight,omitempty"`
	Ruler   bool                `json:"ruler,omitempty" yaml:"ruler,omitempty"`
	Rules   []CompatibilityRule `json:"rules,omitempty" yaml:"rules,omitempty"`
	Asset   string              `json:"asset,omitempty" yaml:"asset,omitempty"`
	Payload []byte              `json:"-" yaml:"-"`
}

// GetWeight returns the rarity weight. Higher weight = more common
// (1 rarest, 5 most common); unset defaults to the most common tier.
func (t *Trait) GetWeight() int {
	if t.Weight <= 0 {
		return 5
	}
	return t.Weight
}

// RuleFor returns the rule this trait imposes on the given layer, if any
func (t *Trait) RuleFor(layerID int) *CompatibilityRule {
	if !t.Ruler {
		return nil
	}
	for i := range t.Rules {
		if t.Rules[i].TargetLayer == layerID {
			return &t.Rules[i]
		}
	}
	return nil
}

// Layer is one stacking position in a composite artifact
type Layer struct {
	ID       int     `json:"id" yaml:"id"`
	Name     string  `json:"name" yaml:"name"`
	Order    int     `json:"order" yaml:"order"`
	Optional bool    `json:"optional,omitempty" yaml:"optional,omitempty"`
	Traits   []Trait `json:"traits" yaml:"traits"`
}

// TraitByID returns the trait with the given id, or nil
func (l *Layer) TraitByID(id int) *Trait {
	for i := range l.Traits {
		if l.Traits[i].ID == id {
			return &l.Traits[i]
		}
	}
	return nil
}

// UniquenessGroup names a set of layers whose joint trait selection must
// never repeat within a run.
type UniquenessGroup struct {
	Name   string `json:"name" yaml:"name"`
	Layers []int  `json:"layers" yaml:"layers"`
	Active bool   `json:"active" yaml:"active"`
}

// Assignment maps layer id to the chosen trait for one artifact attempt.
// Skipped optional layers are simply absent.
type Assignment map[int]*Trait

// Clone returns a shallow copy of the assignment
func (a Assignment) Clone() Assignment {
	out := make(Assignment, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Complete reports whether every non-optional layer has a trait assigned
func (a Assignment) Complete(layers []Layer) bool {
	for i := range layers {
		if layers[i].Optional {
			continue
		}
		if _, ok := a[layers[i].ID]; !ok {
			return false
		}
	}
	return true
}

// TraitIDs returns the sorted trait ids chosen for the given layers.
// The second result is false when any of the layers has no selection.
func (a Assignment) TraitIDs(layerIDs []int) ([]int, bool) {
	ids := make([]int, 0, len(layerIDs))
	for _, layerID := range layerIDs {
		trait, ok := a[layerID]
		if !ok {
			return nil, false
		}
		ids = append(ids, trait.ID)
	}
	sort.Ints(ids)
	return ids, true
}

// Attribute is one (layer name, trait name) entry of an artifact's metadata
type Attribute struct {
	Layer string `json:"layer"`
	Trait string `json:"trait"`
}

// Artifact is one rendered output: encoded pixels plus ordered attributes.
// Ownership transfers to the receiver on emission; the engine keeps no
// reference afterwards.
type Artifact struct {
	Index      int         `json:"index"`
	Name       string      `json:"name"`
	Image      []byte      `json:"-"`
	Format     ImageFormat `json:"format"`
	Attributes []Attribute `json:"attributes"`
}

// FileName returns the 1-based image file name, e.g. "7.png"
func (a *Artifact) FileName() string {
	ext := "png"
	if a.Format == ImageFormatJPEG {
		ext = "jpg"
	}
	return fmt.Sprintf("%d.%s", a.Index, ext)
}

// MetadataFileName returns the matching metadata file name, e.g. "7.json"
func (a *Artifact) MetadataFileName() string {
	return fmt.Sprintf("%d.json", a.Index)
}

// GenerationRequest describes one run as submitted by the caller
type GenerationRequest struct {
	Count          int               `json:"count" yaml:"count"`
	Width          int               `json:"width" yaml:"width"`
	Height         int               `json:"height" yaml:"height"`
	NamePrefix     string            `json:"namePrefix,omitempty" yaml:"namePrefix,omitempty"`
	Layers         []Layer           `json:"layers" yaml:"layers"`
	Groups         []UniquenessGroup `json:"groups,omitempty" yaml:"groups,omitempty"`
	MetadataFormat string            `json:"metadataFormat,omitempty" yaml:"metadataFormat,omitempty"`
}

// ProgressNotice reports generation progress to the caller
type ProgressNotice struct {
	RunID     string          `json:"runId"`
	Generated int             `json:"generated"`
	Total     int             `json:"total"`
	Status    string          `json:"status"`
	Memory    *MemorySnapshot `json:"memory,omitempty"`
}

// MemorySnapshot captures heap pressure at the time of a progress notice
type MemorySnapshot struct {
	HeapBytes  uint64  `json:"heapBytes"`
	LimitBytes uint64  `json:"limitBytes"`
	Pressure   float64 `json:"pressure"`
}

// PreviewNotice carries a low-resolution render of a sampled index
type PreviewNotice struct {
	RunID string `json:"runId"`
	Index int    `json:"index"`
	Image []byte `json:"-"`
}

// RunResult is the terminal notice for one run
type RunResult struct {
	RunID     string        `json:"runId"`
	Status    RunStatus     `json:"status"`
	Generated int           `json:"generated"`
	Requested int           `json:"requested"`
	Err       string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
}

// Failed reports whether the run ended in error
func (r *RunResult) Failed() bool { return r.Status == RunStatusFailed }

// MessageKind discriminates worker protocol messages
type MessageKind string

const (
	MessageKindInitialize MessageKind = "initialize"
	MessageKindReady      MessageKind = "ready"
	MessageKindPing       MessageKind = "ping"
	MessageKindPong       MessageKind = "pong"
	MessageKindStart      MessageKind = "start"
	MessageKindCancel     MessageKind = "cancel"
	MessageKindArtifact   MessageKind = "artifact"
	MessageKindChunk      MessageKind = "chunk"
	MessageKindProgress   MessageKind = "progress"
	MessageKindPreview    MessageKind = "preview"
	MessageKindResult     MessageKind = "result"
)

// WorkerMessage is the envelope exchanged between the orchestrator and a
// worker. Exactly one payload field is set, matching Kind. Pixel buffers
// ride in Artifacts by reference; the sender drops its reference on send.
type WorkerMessage struct {
	Kind        MessageKind        `json:"kind"`
	TaskID      string             `json:"taskId,omitempty"`
	WorkerIndex int                `json:"workerIndex"`
	PingID      string             `json:"pingId,omitempty"`
	Request     *GenerationRequest `json:"request,omitempty"`
	Artifacts   []*Artifact        `json:"-"`
	Progress    *ProgressNotice    `json:"progress,omitempty"`
	Preview     *PreviewNotice     `json:"preview,omitempty"`
	Result      *RunResult         `json:"result,omitempty"`
}

// WorkerScope names a worker for log scoping, e.g. "worker-3"
func WorkerScope(index int) string {
	return fmt.Sprintf("worker-%d", index)
}

// GenerationSettings tunes engine behaviour. Optional fields fall back to
// defaults through the getters.
type GenerationSettings struct {
	StreamThreshold     *int     `json:"streamThreshold,omitempty" yaml:"streamThreshold,omitempty"`
	MinChunkSize        *int     `json:"minChunkSize,omitempty" yaml:"minChunkSize,omitempty"`
	MaxChunkSize        *int     `json:"maxChunkSize,omitempty" yaml:"maxChunkSize,omitempty"`
	ExhaustionThreshold *int     `json:"exhaustionThreshold,omitempty" yaml:"exhaustionThreshold,omitempty"`
	FeasibilityBudget   *int     `json:"feasibilityBudget,omitempty" yaml:"feasibilityBudget,omitempty"`
	MinWorkers          *int     `json:"minWorkers,omitempty" yaml:"minWorkers,omitempty"`
	MaxWorkers          *int     `json:"maxWorkers,omitempty" yaml:"maxWorkers,omitempty"`
	HealthInterval      *int     `json:"healthIntervalMs,omitempty" yaml:"healthIntervalMs,omitempty"`
	HealthTimeout       *int     `json:"healthTimeoutMs,omitempty" yaml:"healthTimeoutMs,omitempty"`
	TaskTimeout         *int     `json:"taskTimeoutMs,omitempty" yaml:"taskTimeoutMs,omitempty"`
	MaxRestarts         *int     `json:"maxRestarts,omitempty" yaml:"maxRestarts,omitempty"`
	IdleTimeout         *int     `json:"idleTimeoutMs,omitempty" yaml:"idleTimeoutMs,omitempty"`
	JPEGQuality         *int     `json:"jpegQuality,omitempty" yaml:"jpegQuality,omitempty"`
	PreviewSize         *int     `json:"previewSize,omitempty" yaml:"previewSize,omitempty"`
	MemorySoftLimitMB   *int     `json:"memorySoftLimitMb,omitempty" yaml:"memorySoftLimitMb,omitempty"`
	ScaleUpPressure     *float64 `json:"scaleUpPressure,omitempty" yaml:"scaleUpPressure,omitempty"`
	ScaleDownPressure   *float64 `json:"scaleDownPressure,omitempty" yaml:"scaleDownPressure,omitempty"`
}

func (s *GenerationSettings) GetStreamThreshold() int {
	if s != nil && s.StreamThreshold != nil {
		return *s.StreamThreshold
	}
	return 100
}

func (s *GenerationSettings) GetMinChunkSize() int {
	if s != nil && s.MinChunkSize != nil {
		return *s.MinChunkSize
	}
	return 5
}

func (s *GenerationSettings) GetMaxChunkSize() int {
	if s != nil && s.MaxChunkSize != nil {
		return *s.MaxChunkSize
	}
	return 50
}

func (s *GenerationSettings) GetExhaustionThreshold() int {
	if s != nil && s.ExhaustionThreshold != nil {
		return *s.ExhaustionThreshold
	}
	return 1000
}

func (s *GenerationSettings) GetFeasibilityBudget() int {
	if s != nil && s.FeasibilityBudget != nil {
		return *s.FeasibilityBudget
	}
	return 100000
}

func (s *GenerationSettings) GetMinWorkers() int {
	if s != nil && s.MinWorkers != nil && *s.MinWorkers > 0 {
		return *s.MinWorkers
	}
	return 1
}

// GetMaxWorkers returns the configured pool ceiling; zero means derive it
// from the device profile.
func (s *GenerationSettings) GetMaxWorkers() int {
	if s != nil && s.MaxWorkers != nil && *s.MaxWorkers > 0 {
		return *s.MaxWorkers
	}
	return 0
}

func (s *GenerationSettings) GetHealthInterval() time.Duration {
	if s != nil && s.HealthInterval != nil {
		return time.Duration(*s.HealthInterval) * time.Millisecond
	}
	return 5 * time.Second
}

func (s *GenerationSettings) GetHealthTimeout() time.Duration {
	if s != nil && s.HealthTimeout != nil {
		return time.Duration(*s.HealthTimeout) * time.Millisecond
	}
	return 3 * time.Second
}

func (s *GenerationSettings) GetTaskTimeout() time.Duration {
	if s != nil && s.TaskTimeout != nil {
		return time.Duration(*s.TaskTimeout) * time.Millisecond
	}
	return 10 * time.Minute
}

func (s *GenerationSettings) GetMaxRestarts() int {
	if s != nil && s.MaxRestarts != nil {
		return *s.MaxRestarts
	}
	return 3
}

func (s *GenerationSettings) GetIdleTimeout() time.Duration {
	if s != nil && s.IdleTimeout != nil {
		return time.Duration(*s.IdleTimeout) * time.Millisecond
	}
	return 30 * time.Second
}

func (s *GenerationSettings) GetJPEGQuality() int {
	if s != nil && s.JPEGQuality != nil {
		return *s.JPEGQuality
	}
	return 85
}

func (s *GenerationSettings) GetPreviewSize() int {
	if s != nil && s.PreviewSize != nil {
		return *s.PreviewSize
	}
	return 128
}

func (s *GenerationSettings) GetMemorySoftLimit() uint64 {
	if s != nil && s.MemorySoftLimitMB != nil {
		return uint64(*s.MemorySoftLimitMB) << 20
	}
	return 512 << 20
}

func (s *GenerationSettings) GetScaleUpPressure() float64 {
	if s != nil && s.ScaleUpPressure != nil {
		return *s.ScaleUpPressure
	}
	return 2.0
}

func (s *GenerationSettings) GetScaleDownPressure() float64 {
	if s != nil && s.ScaleDownPressure != nil {
		return *s.ScaleDownPressure
	}
	return 0.5
}

// ProjectConfig is the top-level configuration file
type ProjectConfig struct {
	Version    string              `json:"version" yaml:"version"`
	Name       string              `json:"name" yaml:"name"`
	Width      int                 `json:"width" yaml:"width"`
	Height     int                 `json:"height" yaml:"height"`
	AssetRoot  string              `json:"assetRoot,omitempty" yaml:"assetRoot,omitempty"`
	OutputDir  string              `json:"outputDir,omitempty" yaml:"outputDir,omitempty"`
	Layers     []Layer             `json:"layers" yaml:"layers"`
	Groups     []UniquenessGroup   `json:"groups,omitempty" yaml:"groups,omitempty"`
	Generation *GenerationSettings `json:"generation,omitempty" yaml:"generation,omitempty"`
	Logging    *LoggingConfig      `json:"logging,omitempty" yaml:"logging,omitempty"`
	Notify     *NotificationConfig `json:"notifications,omitempty" yaml:"notifications,omitempty"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	File  string   `json:"file" yaml:"file"`
	Level LogLevel `json:"level" yaml:"level"`
}

// NotificationConfig represents notification preferences
type NotificationConfig struct {
	Enabled      *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	SuccessSound string `json:"successSound,omitempty" yaml:"successSound,omitempty"`
	FailureSound string `json:"failureSound,omitempty" yaml:"failureSound,omitempty"`
}
