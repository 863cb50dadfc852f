package topo

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/netip"
	"os"
	"time"

	"github.com/hulanet/fabric-control/internal/models"
)

type linkDto struct {
	Port        uint16 `json:"port"`
	Neighbor    string `json:"neighbor"`
	NeighborMAC string `json:"neighbor_mac"`
}

type switchDto struct {
	ID        string    `json:"switch_id"`
	AgentAddr string    `json:"agent_addr"`
	TorID     uint32    `json:"tor_id"`
	Links     []linkDto `json:"links"`
	Prefixes  []string  `json:"prefixes"`
}

type probeDto struct {
	DstTor   uint32 `json:"dst_tor_id"`
	SrcMAC   string `json:"src_mac"`
	DstMAC   string `json:"dst_mac"`
	PeriodMs uint32 `json:"period_ms"`
}

type topologyDto struct {
	Switches []switchDto `json:"switches"`
	Probes   []probeDto  `json:"probes"`
}

// Load reads and validates a topology file. Unknown fields, duplicate
// switch ids, links to unknown neighbors and bad probe descriptors are all
// rejected up front as a ConfigError: the topology is consumed wholesale at
// session start, nothing may be partially applied.
func Load(path string) (*models.Topology, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &models.ConfigError{Field: "topology", Err: err}
	}
	return Parse(raw)
}

func Parse(raw []byte) (*models.Topology, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	dto := topologyDto{}
	if err := dec.Decode(&dto); err != nil {
		return nil, &models.ConfigError{Field: "topology", Err: err}
	}
	if len(dto.Switches) == 0 {
		return nil, &models.ConfigError{Field: "switches", Err: fmt.Errorf("topology has no switches")}
	}

	topology := &models.Topology{
		Switches: make(map[models.SwitchID]*models.Switch, len(dto.Switches)),
	}
	for _, swDto := range dto.Switches {
		sw, err := switchToModel(swDto)
		if err != nil {
			return nil, err
		}
		if _, exists := topology.Switches[sw.ID]; exists {
			return nil, &models.ConfigError{
				Field: "switches",
				Err:   fmt.Errorf("duplicate switch id %s", sw.ID),
			}
		}
		topology.Switches[sw.ID] = sw
	}
	if err := validateLinks(topology); err != nil {
		return nil, err
	}

	topology.Probes = make([]models.ProbeDescriptor, 0, len(dto.Probes))
	for _, probeDto := range dto.Probes {
		probe, err := probeToModel(topology, probeDto)
		if err != nil {
			return nil, err
		}
		topology.Probes = append(topology.Probes, probe)
	}
	return topology, nil
}

func switchToModel(dto switchDto) (*models.Switch, error) {
	if dto.ID == "" {
		return nil, &models.ConfigError{Field: "switch_id", Err: fmt.Errorf("empty switch id")}
	}
	sw := &models.Switch{
		ID:        models.SwitchID(dto.ID),
		AgentAddr: dto.AgentAddr,
		TorID:     dto.TorID,
		Links:     make([]models.Link, 0, len(dto.Links)),
		Prefixes:  make([]netip.Prefix, 0, len(dto.Prefixes)),
	}
	for _, linkDto := range dto.Links {
		mac, err := net.ParseMAC(linkDto.NeighborMAC)
		if err != nil {
			return nil, &models.ConfigError{
				Field: fmt.Sprintf("switch %s links", dto.ID),
				Err:   err,
			}
		}
		sw.Links = append(sw.Links, models.Link{
			Port:        linkDto.Port,
			Neighbor:    models.SwitchID(linkDto.Neighbor),
			NeighborMAC: mac,
		})
	}
	for _, prefixStr := range dto.Prefixes {
		prefix, err := netip.ParsePrefix(prefixStr)
		if err != nil {
			return nil, &models.ConfigError{
				Field: fmt.Sprintf("switch %s prefixes", dto.ID),
				Err:   err,
			}
		}
		if !prefix.Addr().Is4() {
			return nil, &models.ConfigError{
				Field: fmt.Sprintf("switch %s prefixes", dto.ID),
				Err:   fmt.Errorf("prefix %s is not IPv4", prefix),
			}
		}
		sw.Prefixes = append(sw.Prefixes, prefix)
	}
	if sw.TorID != 0 && len(sw.Prefixes) == 0 {
		return nil, &models.ConfigError{
			Field: fmt.Sprintf("switch %s", dto.ID),
			Err:   fmt.Errorf("tor %d has no attached prefixes", sw.TorID),
		}
	}
	return sw, nil
}

func validateLinks(topology *models.Topology) error {
	for id, sw := range topology.Switches {
		seenPorts := make(map[uint16]struct{}, len(sw.Links))
		for _, link := range sw.Links {
			if _, exists := topology.Switches[link.Neighbor]; !exists {
				return &models.ConfigError{
					Field: fmt.Sprintf("switch %s links", id),
					Err:   fmt.Errorf("unknown neighbor %s", link.Neighbor),
				}
			}
			if _, dup := seenPorts[link.Port]; dup {
				return &models.ConfigError{
					Field: fmt.Sprintf("switch %s links", id),
					Err:   fmt.Errorf("duplicate port %d", link.Port),
				}
			}
			seenPorts[link.Port] = struct{}{}
		}
	}
	return nil
}

func probeToModel(topology *models.Topology, dto probeDto) (models.ProbeDescriptor, error) {
	if dto.PeriodMs == 0 {
		return models.ProbeDescriptor{}, &models.ConfigError{
			Field: "probes",
			Err:   fmt.Errorf("probe period must be positive"),
		}
	}
	if _, exists := topology.TorByID(dto.DstTor); !exists {
		return models.ProbeDescriptor{}, &models.ConfigError{
			Field: "probes",
			Err:   fmt.Errorf("probe destination tor %d is not in the topology", dto.DstTor),
		}
	}
	srcMAC, err := net.ParseMAC(dto.SrcMAC)
	if err != nil {
		return models.ProbeDescriptor{}, &models.ConfigError{Field: "probes", Err: err}
	}
	dstMAC, err := net.ParseMAC(dto.DstMAC)
	if err != nil {
		return models.ProbeDescriptor{}, &models.ConfigError{Field: "probes", Err: err}
	}
	return models.ProbeDescriptor{
		DstTor: dto.DstTor,
		SrcMAC: srcMAC,
		DstMAC: dstMAC,
		Period: time.Duration(dto.PeriodMs) * time.Millisecond,
	}, nil
}
