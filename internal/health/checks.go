package health

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"platewatch/internal/camera"
	"platewatch/internal/detect"
	"platewatch/internal/model"
	"platewatch/internal/storage"
)

// Component names as they appear in the health log.
const (
	ComponentCamera      = "camera"
	ComponentModels      = "models"
	ComponentPersistence = "persistence"
	ComponentStorage     = "storage"
	ComponentWorker      = "worker"
	ComponentCPU         = "cpu"
	ComponentMemory      = "memory"
	ComponentNetwork     = "network"
)

// Checker probes one component. Run fills Component, Status, Message
// and Details; the monitor stamps the timestamp. Probes must not block
// for long or they starve the monitor loop.
type Checker interface {
	Component() string
	Run() model.HealthCheckResult
}

// CameraProbe is satisfied by camera.Manager.
type CameraProbe interface {
	Health() camera.Health
}

// CameraCheck reports whether the camera is initialized and streaming.
type CameraCheck struct {
	Probe CameraProbe
}

func (c *CameraCheck) Component() string { return ComponentCamera }

func (c *CameraCheck) Run() model.HealthCheckResult {
	h := c.Probe.Health()
	details := map[string]string{
		"initialized": strconv.FormatBool(h.Initialized),
		"streaming":   strconv.FormatBool(h.Streaming),
		"uptime":      h.Uptime.Round(time.Second).String(),
	}

	res := model.HealthCheckResult{Component: ComponentCamera, Details: details}
	switch {
	case h.Streaming:
		res.Status, res.Message = model.StatusPass, "camera streaming"
	case h.Initialized:
		res.Status, res.Message = model.StatusWarn, "camera initialized but not streaming"
	default:
		res.Status, res.Message = model.StatusFail, "camera not initialized"
	}
	return res
}

// ModelsProbe is satisfied by detect.Pipeline.
type ModelsProbe interface {
	Status() detect.Status
}

// ModelsCheck reports whether the detection networks are loaded.
type ModelsCheck struct {
	Probe ModelsProbe
}

func (c *ModelsCheck) Component() string { return ComponentModels }

func (c *ModelsCheck) Run() model.HealthCheckResult {
	st := c.Probe.Status()
	res := model.HealthCheckResult{
		Component: ComponentModels,
		Details: map[string]string{
			"engines":   strings.Join(st.Engines, ","),
			"processed": strconv.FormatUint(st.Processed, 10),
		},
	}
	if !st.ModelsLoaded {
		res.Status, res.Message = model.StatusFail, "detection models not loaded"
		return res
	}
	res.Status, res.Message = model.StatusPass, "detection models loaded"
	return res
}

// Pinger is satisfied by the sqlite repositories.
type Pinger interface {
	Ping() error
}

// PersistenceCheck verifies the database answers.
type PersistenceCheck struct {
	Probe Pinger
}

func (c *PersistenceCheck) Component() string { return ComponentPersistence }

func (c *PersistenceCheck) Run() model.HealthCheckResult {
	if err := c.Probe.Ping(); err != nil {
		return model.HealthCheckResult{
			Component: ComponentPersistence,
			Status:    model.StatusFail,
			Message:   fmt.Sprintf("database unreachable: %v", err),
		}
	}
	return model.HealthCheckResult{
		Component: ComponentPersistence,
		Status:    model.StatusPass,
		Message:   "database reachable",
	}
}

// StorageProbe is satisfied by storage.Evictor.
type StorageProbe interface {
	Status() storage.Status
	Config() storage.EvictorConfig
}

// staleSweepIntervals is how many missed sweep intervals mark the
// eviction loop as stalled.
const staleSweepIntervals = 3

// StorageCheck reports free-space headroom, eviction-loop liveness and
// recent eviction alerts.
type StorageCheck struct {
	Probe StorageProbe
}

func (c *StorageCheck) Component() string { return ComponentStorage }

func (c *StorageCheck) Run() model.HealthCheckResult {
	st := c.Probe.Status()
	details := map[string]string{
		"free_gb":     strconv.FormatFloat(st.FreeGB, 'f', 2, 64),
		"min_free_gb": strconv.FormatFloat(st.MinFreeGB, 'f', 2, 64),
	}
	if !st.LastSweep.IsZero() {
		details["last_sweep"] = st.LastSweep.Format(time.RFC3339)
	}

	res := model.HealthCheckResult{Component: ComponentStorage, Details: details}
	if st.FreeGB < st.MinFreeGB {
		res.Status = model.StatusFail
		res.Message = fmt.Sprintf("free space %.2fGB below floor %.2fGB", st.FreeGB, st.MinFreeGB)
		return res
	}
	// A sweep loop that stopped sweeping only shows up here; the disk
	// looks fine right up until it fills.
	if interval := c.Probe.Config().Interval; interval > 0 && !st.LastSweep.IsZero() {
		if age := time.Since(st.LastSweep); age > staleSweepIntervals*interval {
			res.Status = model.StatusWarn
			res.Message = fmt.Sprintf("eviction sweep overdue by %s", (age - interval).Round(time.Second))
			return res
		}
	}
	for _, a := range st.Alerts {
		if a.Level == model.AlertCritical {
			res.Status, res.Message = model.StatusWarn, "recent eviction touched undelivered data"
			return res
		}
	}
	res.Status, res.Message = model.StatusPass, "free space above floor"
	return res
}

// WorkerProbe is satisfied by detect.Scheduler.
type WorkerProbe interface {
	Running() bool
	WorkerAlive() bool
}

// WorkerCheck reports whether the detection loop is making progress.
type WorkerCheck struct {
	Probe WorkerProbe
}

func (c *WorkerCheck) Component() string { return ComponentWorker }

func (c *WorkerCheck) Run() model.HealthCheckResult {
	res := model.HealthCheckResult{Component: ComponentWorker}
	switch {
	case !c.Probe.Running():
		res.Status, res.Message = model.StatusWarn, "detection worker not started"
	case !c.Probe.WorkerAlive():
		res.Status, res.Message = model.StatusFail, "detection worker stalled"
	default:
		res.Status, res.Message = model.StatusPass, "detection worker alive"
	}
	return res
}

// ReachabilityProbe is satisfied by delivery.Sender.
type ReachabilityProbe interface {
	Healthy() bool
}

// NetworkCheck reports whether the upstream collector is reachable,
// derived from the delivery sender's recent connect history.
type NetworkCheck struct {
	Probe ReachabilityProbe
}

func (c *NetworkCheck) Component() string { return ComponentNetwork }

func (c *NetworkCheck) Run() model.HealthCheckResult {
	if !c.Probe.Healthy() {
		return model.HealthCheckResult{
			Component: ComponentNetwork,
			Status:    model.StatusFail,
			Message:   "upstream collector unreachable",
		}
	}
	return model.HealthCheckResult{
		Component: ComponentNetwork,
		Status:    model.StatusPass,
		Message:   "upstream collector reachable",
	}
}

// Above resourceFailPercent a resource check fails outright; the warn
// threshold comes from configuration.
const resourceFailPercent = 98.0

// CPUCheck samples overall CPU utilization.
type CPUCheck struct {
	warnPercent float64
	percent     func() (float64, error) // injectable for tests
}

func NewCPUCheck(warnPercent float64) *CPUCheck {
	return &CPUCheck{warnPercent: warnPercent, percent: func() (float64, error) {
		vals, err := cpu.Percent(0, false)
		if err != nil {
			return 0, err
		}
		if len(vals) == 0 {
			return 0, fmt.Errorf("no cpu samples")
		}
		return vals[0], nil
	}}
}

func (c *CPUCheck) Component() string { return ComponentCPU }

func (c *CPUCheck) Run() model.HealthCheckResult {
	used, err := c.percent()
	if err != nil {
		return model.HealthCheckResult{
			Component: ComponentCPU,
			Status:    model.StatusWarn,
			Message:   fmt.Sprintf("cpu sample failed: %v", err),
		}
	}
	return resourceResult(ComponentCPU, used, c.warnPercent)
}

// MemoryCheck samples system memory pressure.
type MemoryCheck struct {
	warnPercent float64
	usedPercent func() (float64, error)
}

func NewMemoryCheck(warnPercent float64) *MemoryCheck {
	return &MemoryCheck{warnPercent: warnPercent, usedPercent: func() (float64, error) {
		vm, err := mem.VirtualMemory()
		if err != nil {
			return 0, err
		}
		return vm.UsedPercent, nil
	}}
}

func (c *MemoryCheck) Component() string { return ComponentMemory }

func (c *MemoryCheck) Run() model.HealthCheckResult {
	used, err := c.usedPercent()
	if err != nil {
		return model.HealthCheckResult{
			Component: ComponentMemory,
			Status:    model.StatusWarn,
			Message:   fmt.Sprintf("memory sample failed: %v", err),
		}
	}
	return resourceResult(ComponentMemory, used, c.warnPercent)
}

func resourceResult(component string, usedPercent, warnPercent float64) model.HealthCheckResult {
	res := model.HealthCheckResult{
		Component: component,
		Details:   map[string]string{"used_percent": strconv.FormatFloat(usedPercent, 'f', 1, 64)},
	}
	switch {
	case usedPercent >= resourceFailPercent:
		res.Status, res.Message = model.StatusFail, component+" exhausted"
	case usedPercent >= warnPercent:
		res.Status, res.Message = model.StatusWarn, component+" pressure high"
	default:
		res.Status, res.Message = model.StatusPass, component+" within limits"
	}
	return res
}
