package ipam

import (
	"regexp"
	"strings"

	"github.com/mr-karan/ipamd/internal/ipaddr"
	"github.com/mr-karan/ipamd/internal/models"
)

var macPattern = regexp.MustCompile(`^([0-9A-Fa-f]{2}[:-]){5}([0-9A-Fa-f]{2})$`)

const (
	minPrefixLength = 8
	maxPrefixLength = 32
	minVLAN         = 1
	maxVLAN         = 4094
	maxNameLength   = 255
)

// NormalizeMAC validates mac and returns it lower-cased with ':' separators.
func NormalizeMAC(mac string) (string, error) {
	if !macPattern.MatchString(mac) {
		return "", &ValidationError{Fields: map[string]string{"mac_address": "must look like XX:XX:XX:XX:XX:XX"}}
	}
	return strings.ToLower(strings.ReplaceAll(mac, "-", ":")), nil
}

// PoolInput describes a pool to create.
type PoolInput struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	StartIP     string        `json:"start_ip"`
	EndIP       string        `json:"end_ip"`
	Gateway     string        `json:"gateway"`
	DNSServers  []string      `json:"dns_servers"`
	VLANID      *int          `json:"vlan_id"`
	Status      models.Status `json:"status"`
}

func (in *PoolInput) validate() error {
	f := fieldErrors{}
	validateName(f, in.Name)
	validateAddress(f, "start_ip", in.StartIP, true)
	validateAddress(f, "end_ip", in.EndIP, true)
	validateAddress(f, "gateway", in.Gateway, false)
	for _, dns := range in.DNSServers {
		validateAddress(f, "dns_servers", dns, true)
	}
	validateVLAN(f, in.VLANID)
	if in.Status == "" {
		in.Status = models.StatusActive
	}
	validateStatus(f, in.Status)
	if _, ok := f["start_ip"]; !ok {
		if _, ok := f["end_ip"]; !ok {
			if _, err := ipaddr.NewRange(in.StartIP, in.EndIP); err != nil {
				f.add("end_ip", "must not be before start_ip")
			}
		}
	}
	return f.err()
}

// PoolUpdate carries the fields of a pool to change. Nil fields are left alone.
type PoolUpdate struct {
	Name        *string        `json:"name"`
	Description *string        `json:"description"`
	StartIP     *string        `json:"start_ip"`
	EndIP       *string        `json:"end_ip"`
	Gateway     *string        `json:"gateway"`
	DNSServers  []string       `json:"dns_servers"`
	VLANID      *int           `json:"vlan_id"`
	Status      *models.Status `json:"status"`
}

func (u PoolUpdate) apply(p *models.Pool) error {
	in := PoolInput{
		Name:        p.Name,
		Description: p.Description,
		StartIP:     p.StartIP,
		EndIP:       p.EndIP,
		Gateway:     p.Gateway,
		DNSServers:  p.DNSServers,
		VLANID:      p.VLANID,
		Status:      p.Status,
	}
	if u.Name != nil {
		in.Name = *u.Name
	}
	if u.Description != nil {
		in.Description = *u.Description
	}
	if u.StartIP != nil {
		in.StartIP = *u.StartIP
	}
	if u.EndIP != nil {
		in.EndIP = *u.EndIP
	}
	if u.Gateway != nil {
		in.Gateway = *u.Gateway
	}
	if u.DNSServers != nil {
		in.DNSServers = u.DNSServers
	}
	if u.VLANID != nil {
		in.VLANID = u.VLANID
	}
	if u.Status != nil {
		in.Status = *u.Status
	}
	if err := in.validate(); err != nil {
		return err
	}

	p.Name = in.Name
	p.Description = in.Description
	p.StartIP = in.StartIP
	p.EndIP = in.EndIP
	p.Gateway = in.Gateway
	p.DNSServers = in.DNSServers
	p.VLANID = in.VLANID
	p.Status = in.Status
	return nil
}

// SubnetInput describes a subnet to create.
type SubnetInput struct {
	PoolID       string        `json:"pool_id"`
	Network      string        `json:"network"`
	PrefixLength int           `json:"prefix_length"`
	Gateway      string        `json:"gateway"`
	VLANID       *int          `json:"vlan_id"`
	Status       models.Status `json:"status"`
}

func (in *SubnetInput) validate() error {
	f := fieldErrors{}
	if in.PoolID == "" {
		f.add("pool_id", "is required")
	}
	validateAddress(f, "network", in.Network, true)
	if in.PrefixLength < minPrefixLength || in.PrefixLength > maxPrefixLength {
		f.add("prefix_length", "must be between 8 and 32")
	}
	if _, bad := f["network"]; !bad {
		if _, bad := f["prefix_length"]; !bad {
			if host, _ := ipaddr.HasHostBits(in.Network, in.PrefixLength); host {
				f.add("network", "has host bits set for this prefix length")
			}
		}
	}
	validateGatewayInSubnet(f, in.Gateway, in.Network, in.PrefixLength)
	validateVLAN(f, in.VLANID)
	if in.Status == "" {
		in.Status = models.StatusActive
	}
	validateStatus(f, in.Status)
	return f.err()
}

// SubnetUpdate carries the mutable fields of a subnet. The network and
// prefix of a subnet never change.
type SubnetUpdate struct {
	Gateway *string        `json:"gateway"`
	VLANID  *int           `json:"vlan_id"`
	Status  *models.Status `json:"status"`
}

func (u SubnetUpdate) apply(sn *models.Subnet) error {
	f := fieldErrors{}
	if u.Gateway != nil {
		validateAddress(f, "gateway", *u.Gateway, false)
		validateGatewayInSubnet(f, *u.Gateway, sn.Network, sn.PrefixLength)
	}
	validateVLAN(f, u.VLANID)
	if u.Status != nil {
		validateStatus(f, *u.Status)
	}
	if err := f.err(); err != nil {
		return err
	}

	if u.Gateway != nil {
		sn.Gateway = *u.Gateway
	}
	if u.VLANID != nil {
		sn.VLANID = u.VLANID
	}
	if u.Status != nil {
		sn.Status = *u.Status
	}
	return nil
}

func validateName(f fieldErrors, name string) {
	switch {
	case strings.TrimSpace(name) == "":
		f.add("name", "is required")
	case len(name) > maxNameLength:
		f.add("name", "must be at most 255 characters")
	}
}

func validateAddress(f fieldErrors, field, value string, required bool) {
	if value == "" {
		if required {
			f.add(field, "is required")
		}
		return
	}
	if _, err := ipaddr.Parse(value); err != nil {
		f.add(field, "must be a valid IPv4 address")
	}
}

func validateGatewayInSubnet(f fieldErrors, gateway, network string, prefix int) {
	if gateway == "" {
		return
	}
	gw, err := ipaddr.ToInt(gateway)
	if err != nil {
		f.add("gateway", "must be a valid IPv4 address")
		return
	}
	r, err := ipaddr.CIDR(network, prefix)
	if err != nil {
		return
	}
	if !r.Contains(gw) {
		f.add("gateway", "must lie inside the subnet")
	}
}

func validateVLAN(f fieldErrors, vlan *int) {
	if vlan != nil && (*vlan < minVLAN || *vlan > maxVLAN) {
		f.add("vlan_id", "must be between 1 and 4094")
	}
}

func validateStatus(f fieldErrors, s models.Status) {
	if !s.Valid() {
		f.add("status", "must be active or inactive")
	}
}
