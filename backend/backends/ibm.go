package backends

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/perclft/qtranspile/backend/noise"
	"github.com/perclft/qtranspile/backend/qerr"
)

// ------------------------------------------------------------------
// IBM Quantum discovery
// ------------------------------------------------------------------

const DefaultIBMBaseURL = "https://api.quantum-computing.ibm.com/runtime"

var errNoCredentials = errors.New("no IBM credentials configured")

// IBMProvider lists the devices an IBM Quantum account can reach, with their
// configuration and calibration properties.
type IBMProvider struct {
	creds   Credentials
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

type IBMOption func(*IBMProvider)

func WithBaseURL(u string) IBMOption {
	return func(p *IBMProvider) { p.baseURL = strings.TrimRight(u, "/") }
}

func WithHTTPClient(c *http.Client) IBMOption {
	return func(p *IBMProvider) { p.client = c }
}

// WithRateLimit caps requests per second against the API.
func WithRateLimit(perSecond float64, burst int) IBMOption {
	return func(p *IBMProvider) { p.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

func WithProviderLogger(l *zap.Logger) IBMOption {
	return func(p *IBMProvider) {
		if l != nil {
			p.logger = l
		}
	}
}

func NewIBMProvider(creds Credentials, opts ...IBMOption) *IBMProvider {
	p := &IBMProvider{
		creds:   creds,
		baseURL: DefaultIBMBaseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(5), 5),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *IBMProvider) Name() string { return "ibm" }

// Discover returns every device that could be fully described. Any failure
// is logged and yields fewer (possibly zero) backends.
func (p *IBMProvider) Discover(ctx context.Context) []*Backend {
	if p.creds.Token == "" {
		p.logger.Debug("skipping IBM discovery", zap.Error(errNoCredentials))
		return nil
	}

	var list struct {
		Devices []string `json:"devices"`
	}
	if err := p.get(ctx, "/backends", &list); err != nil {
		p.logger.Warn("IBM discovery failed",
			zap.String("instance", p.creds.Instance()),
			zap.Error(fmt.Errorf("%w: %w", qerr.ErrRemoteDiscoveryFailed, err)))
		return nil
	}

	names := append([]string(nil), list.Devices...)
	sort.Strings(names)
	var out []*Backend
	for _, name := range names {
		b, err := p.describe(ctx, name)
		if err != nil {
			p.logger.Warn("skipping IBM device",
				zap.String("backend", name),
				zap.Error(fmt.Errorf("%w: %w", qerr.ErrRemoteDiscoveryFailed, err)))
			if ctx.Err() != nil {
				return out
			}
			continue
		}
		out = append(out, b)
	}
	p.logger.Info("IBM discovery finished", zap.Int("devices", len(out)), zap.Int("listed", len(names)))
	return out
}

type ibmConfiguration struct {
	BackendName string   `json:"backend_name"`
	NumQubits   int      `json:"n_qubits"`
	BasisGates  []string `json:"basis_gates"`
	CouplingMap [][]int  `json:"coupling_map"`
	Simulator   bool     `json:"simulator"`
}

type ibmNduv struct {
	Name  string  `json:"name"`
	Unit  string  `json:"unit"`
	Value float64 `json:"value"`
}

type ibmProperties struct {
	LastUpdate time.Time   `json:"last_update_date"`
	Qubits     [][]ibmNduv `json:"qubits"`
	Gates      []struct {
		Gate       string    `json:"gate"`
		Qubits     []int     `json:"qubits"`
		Parameters []ibmNduv `json:"parameters"`
	} `json:"gates"`
}

func (p *IBMProvider) describe(ctx context.Context, name string) (*Backend, error) {
	var cfg ibmConfiguration
	if err := p.get(ctx, "/backends/"+url.PathEscape(name)+"/configuration", &cfg); err != nil {
		return nil, err
	}
	if cfg.BackendName != "" && cfg.BackendName != name {
		return nil, fmt.Errorf("configuration names %q", cfg.BackendName)
	}
	coupling := make([][2]int, 0, len(cfg.CouplingMap))
	for _, e := range cfg.CouplingMap {
		if len(e) != 2 {
			return nil, fmt.Errorf("coupling entry %v is not a pair", e)
		}
		coupling = append(coupling, [2]int{e[0], e[1]})
	}

	var cal *noise.Calibration
	if !cfg.Simulator {
		var props ibmProperties
		if err := p.get(ctx, "/backends/"+url.PathEscape(name)+"/properties", &props); err != nil {
			return nil, err
		}
		cal = props.calibration(coupling)
	}

	return New(Spec{
		Name:        name,
		Kind:        RemoteDevice,
		NumQubits:   cfg.NumQubits,
		NativeGates: cfg.BasisGates,
		CouplingMap: coupling,
		Calibration: cal,
		MaxLevel:    DefaultMaxLevel,
	})
}

// calibration averages per-instance gate properties by gate name. Times are
// converted to microseconds (T1/T2) and nanoseconds (gate length).
func (props ibmProperties) calibration(coupling [][2]int) *noise.Calibration {
	cal := &noise.Calibration{
		LastUpdate:   props.LastUpdate,
		T1:           make(map[int]float64),
		T2:           make(map[int]float64),
		ReadoutError: make(map[int]float64),
		GateErrors:   make(map[string]float64),
		GateTimes:    make(map[string]float64),
		Connectivity: coupling,
	}
	for q, params := range props.Qubits {
		for _, v := range params {
			switch v.Name {
			case "T1":
				cal.T1[q] = toMicroseconds(v)
			case "T2":
				cal.T2[q] = toMicroseconds(v)
			case "readout_error":
				cal.ReadoutError[q] = v.Value
			}
		}
	}

	errSum := make(map[string]float64)
	errN := make(map[string]int)
	timeSum := make(map[string]float64)
	timeN := make(map[string]int)
	for _, g := range props.Gates {
		for _, v := range g.Parameters {
			switch v.Name {
			case "gate_error":
				errSum[g.Gate] += v.Value
				errN[g.Gate]++
			case "gate_length":
				timeSum[g.Gate] += toNanoseconds(v)
				timeN[g.Gate]++
			}
		}
	}
	for name, n := range errN {
		cal.GateErrors[name] = errSum[name] / float64(n)
	}
	for name, n := range timeN {
		cal.GateTimes[name] = timeSum[name] / float64(n)
	}
	return cal
}

func toMicroseconds(v ibmNduv) float64 {
	switch v.Unit {
	case "ns":
		return v.Value / 1000
	case "ms":
		return v.Value * 1000
	case "s":
		return v.Value * 1e6
	}
	return v.Value
}

func toNanoseconds(v ibmNduv) float64 {
	switch v.Unit {
	case "us", "µs":
		return v.Value * 1000
	case "ms":
		return v.Value * 1e6
	}
	return v.Value
}

func (p *IBMProvider) get(ctx context.Context, path string, into any) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return err
	}
	q := req.URL.Query()
	q.Set("provider", p.creds.Instance())
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Authorization", "Bearer "+p.creds.Token)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("GET %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return fmt.Errorf("GET %s: decode: %w", path, err)
	}
	return nil
}
