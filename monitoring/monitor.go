// Package monitoring serves the state of running replacement policies over
// HTTP.
package monitoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"sync"
	"time"

	// Enable profiling
	_ "net/http/pprof"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/rs/xid"
	"github.com/sarchlab/mlreplace/replacement"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"
)

// Monitor turns a trace replay into a server that reports the state of the
// replacement policies.
//
// Policies are not safe for concurrent use, so the monitor never reads them
// while serving. The goroutine that drives the policies calls Refresh to
// publish a snapshot, and the server reports the latest snapshot.
type Monitor struct {
	portNumber int

	policiesLock sync.Mutex
	policies     []*replacement.Policy
	snapshots    map[string]*policySnapshot

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar
}

type policySnapshot struct {
	Name         string            `json:"name"`
	Strategy     string            `json:"strategy"`
	NumSets      int               `json:"num_sets"`
	NumWays      int               `json:"num_ways"`
	Cycle        uint64            `json:"cycle"`
	Stats        replacement.Stats `json:"stats"`
	LeafCounters []int             `json:"leaf_counters"`
	TakenAt      time.Time         `json:"taken_at"`
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	return &Monitor{
		snapshots: make(map[string]*policySnapshot),
	}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// RegisterPolicy registers a policy to be monitored. It must be called from
// the goroutine that drives the policy.
func (m *Monitor) RegisterPolicy(p *replacement.Policy) {
	m.policiesLock.Lock()
	defer m.policiesLock.Unlock()

	m.policies = append(m.policies, p)
	m.snapshots[p.Name()] = takeSnapshot(p)
}

// Refresh publishes the current state of all registered policies. It must be
// called from the goroutine that drives the policies.
func (m *Monitor) Refresh() {
	m.policiesLock.Lock()
	defer m.policiesLock.Unlock()

	for _, p := range m.policies {
		m.snapshots[p.Name()] = takeSnapshot(p)
	}
}

func takeSnapshot(p *replacement.Policy) *policySnapshot {
	s := &policySnapshot{
		Name:     p.Name(),
		Strategy: StrategyName(p),
		NumSets:  p.Tracker().NumSets(),
		NumWays:  p.Tracker().NumWays(),
		Cycle:    p.Cycle(),
		Stats:    p.Stats(),
		TakenAt:  time.Now(),
	}

	if p.Engine() != nil {
		for _, c := range p.Engine().Counters() {
			s.LeafCounters = append(s.LeafCounters, int(c))
		}
	}

	return s
}

// StrategyName returns the name of the replacement strategy of a policy.
func StrategyName(p *replacement.Policy) string {
	switch p.Engine().(type) {
	case nil:
		return "lru"
	case *replacement.BaselineEngine:
		return "baseline"
	case *replacement.EnhancedEngine:
		return "enhanced"
	default:
		return "custom"
	}
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		id:        xid.New().String(),
		name:      name,
		startTime: time.Now(),
		total:     total,
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar to be shown on the webpage.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

// StartServer starts the monitor as a web server and returns its URL.
func (m *Monitor) StartServer() string {
	r := m.router()

	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)

	url := fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)
	fmt.Fprintf(os.Stderr, "Monitoring replacement policies with %s\n", url)

	go func() {
		err := http.Serve(listener, r)
		dieOnErr(err)
	}()

	return url
}

func (m *Monitor) router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/policies", m.listPolicies)
	r.HandleFunc("/api/policy/{name}", m.listPolicyDetails)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)
	r.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)

	return r
}

func (m *Monitor) listPolicies(w http.ResponseWriter, _ *http.Request) {
	m.policiesLock.Lock()
	names := make([]string, 0, len(m.policies))
	for _, p := range m.policies {
		names = append(names, p.Name())
	}
	m.policiesLock.Unlock()

	bytes, err := json.Marshal(names)
	dieOnErr(err)

	_, err = w.Write(bytes)
	dieOnErr(err)
}

func (m *Monitor) listPolicyDetails(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	snapshot := m.findSnapshotOr404(w, name)
	if snapshot == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(snapshot)
	serializer.SetMaxDepth(2)
	err := serializer.Serialize(w)

	dieOnErr(err)
}

func (m *Monitor) findSnapshotOr404(
	w http.ResponseWriter,
	name string,
) *policySnapshot {
	m.policiesLock.Lock()
	snapshot := m.snapshots[name]
	m.policiesLock.Unlock()

	if snapshot == nil {
		w.WriteHeader(http.StatusNotFound)
		_, err := w.Write([]byte("Policy not found"))
		dieOnErr(err)
	}

	return snapshot
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	now := time.Now()
	rsp := make([]progressBarRsp, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		rsp = append(rsp, b.status(now))
	}
	m.progressBarsLock.Unlock()

	bytes, err := json.Marshal(rsp)
	dieOnErr(err)

	_, err = w.Write(bytes)
	dieOnErr(err)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	process, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := process.CPUPercent()
	dieOnErr(err)

	memorySize, err := process.MemoryInfo()
	dieOnErr(err)

	rsp := resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	}

	bytes, err := json.Marshal(rsp)
	dieOnErr(err)

	_, err = w.Write(bytes)
	dieOnErr(err)
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	dieOnErr(err)

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	bytes, err := json.Marshal(prof)
	dieOnErr(err)

	_, err = w.Write(bytes)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
