// Package config loads the node configuration spec.md §6 enumerates,
// grounded on internal/config/parameters.go's JSON-tagged struct +
// load/validate shape, generalized from ryx's runtime tuning knobs to
// locnet's identity/network/timing parameters.
package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/BasicAcid/locnet/internal/model"
	"github.com/BasicAcid/locnet/internal/overlay"
	"github.com/BasicAcid/locnet/internal/spatial"
	"github.com/BasicAcid/locnet/internal/xerrors"
)

// NodeConfig is the full set of fields spec.md §6 requires a node to be
// configured with before it can start.
type NodeConfig struct {
	NodeID string `json:"nodeId"`

	ListenPorts struct {
		Node   int `json:"node"`
		Local  int `json:"local"`
		Client int `json:"client"`
	} `json:"listenPorts"`

	AdvertisedContacts []ContactConfig `json:"advertisedContacts"`
	Seeds              []ContactConfig `json:"seeds"`

	Location struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"location"`

	DbPath               string `json:"dbPath"`
	DbExpirationSeconds  int    `json:"dbExpirationPeriodSeconds"`
	DbMaintenanceSeconds int    `json:"dbMaintenancePeriodSeconds"`

	DiscoverySeconds int `json:"discoveryPeriodSeconds"`
	RenewalSeconds   int `json:"renewalPeriodSeconds"`

	NeighbourhoodTarget int `json:"neighbourhoodTarget"`
	ColleagueTarget      int `json:"colleagueTarget"`

	IsTestMode bool `json:"isTestMode"`
}

// ContactConfig is an (address, port) pair as it appears in config files;
// the address type is inferred from Address's textual form so config
// files don't need to redundantly name it.
type ContactConfig struct {
	Address string `json:"address"`
	Port    int    `json:"port"`
}

// Load reads and validates a NodeConfig from a JSON file at path.
func Load(path string) (*NodeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Validation.Wrap(err)
	}
	var cfg NodeConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, xerrors.Validation.Wrap(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the fields spec.md §6 calls out as mandatory.
func (c *NodeConfig) Validate() error {
	if c.NodeID == "" {
		return xerrors.Validation.New("nodeId must not be empty")
	}
	if c.ListenPorts.Node == 0 || c.ListenPorts.Local == 0 || c.ListenPorts.Client == 0 {
		return xerrors.Validation.New("listenPorts.node/local/client must all be set")
	}
	if _, err := spatial.NewGpsLocation(c.Location.Lat, c.Location.Lon); err != nil {
		return err
	}
	if c.NeighbourhoodTarget <= 0 {
		c.NeighbourhoodTarget = overlay.DefaultConfig().NeighbourhoodTarget
	}
	if c.ColleagueTarget <= 0 {
		c.ColleagueTarget = overlay.DefaultConfig().ColleagueTarget
	}
	return nil
}

// Contacts converts AdvertisedContacts into model.NetworkInterface values.
func (c *NodeConfig) Contacts() ([]model.NetworkInterface, error) {
	return toNetworkInterfaces(c.AdvertisedContacts)
}

// SeedContacts converts Seeds into model.NetworkInterface values.
func (c *NodeConfig) SeedContacts() ([]model.NetworkInterface, error) {
	return toNetworkInterfaces(c.Seeds)
}

func toNetworkInterfaces(in []ContactConfig) ([]model.NetworkInterface, error) {
	out := make([]model.NetworkInterface, 0, len(in))
	for _, c := range in {
		addrType := model.Ipv4
		if hasColon(c.Address) {
			addrType = model.Ipv6
		}
		ni, err := model.NewNetworkInterface(addrType, c.Address, c.Port)
		if err != nil {
			return nil, err
		}
		out = append(out, ni)
	}
	return out, nil
}

func hasColon(s string) bool {
	for _, r := range s {
		if r == ':' {
			return true
		}
	}
	return false
}

// OverlayConfig maps the timing/target knobs to overlay.Config.
func (c *NodeConfig) OverlayConfig() overlay.Config {
	d := overlay.DefaultConfig()
	cfg := overlay.Config{
		NeighbourhoodTarget: c.NeighbourhoodTarget,
		ColleagueTarget:     c.ColleagueTarget,
		RenewalPeriod:       seconds(c.RenewalSeconds, d.RenewalPeriod),
		ExpirationPeriod:    seconds(c.DbExpirationSeconds, d.ExpirationPeriod),
		DiscoveryPeriod:     seconds(c.DiscoverySeconds, d.DiscoveryPeriod),
		MaintenancePeriod:   seconds(c.DbMaintenanceSeconds, d.MaintenancePeriod),
	}
	return cfg
}

func seconds(n int, fallback time.Duration) time.Duration {
	if n <= 0 {
		return fallback
	}
	return time.Duration(n) * time.Second
}
