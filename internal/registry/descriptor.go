package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"chainSync/internal/chainerr"
)

// Descriptor names a contract interface and where it lives.
//
// Address is valid on every network and is used for external contracts such as
// well-known tokens. Addresses maps a decimal chain id to the deployment on that
// network. When both are set, Addresses wins for the networks it lists.
type Descriptor struct {
	Name      string            `json:"name"`
	ABI       json.RawMessage   `json:"abi"`
	Address   string            `json:"address,omitempty"`
	Addresses map[string]string `json:"addresses,omitempty"`
}

// LoadDescriptors reads a JSON descriptor file. The file holds either a list of
// descriptors or an object keyed by contract name.
func LoadDescriptors(path string) ([]Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read descriptors: %w", err)
	}
	return ParseDescriptors(data)
}

// ParseDescriptors decodes descriptor JSON.
func ParseDescriptors(data []byte) ([]Descriptor, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("descriptors: empty input")
	}

	if data[0] == '[' {
		var list []Descriptor
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("decode descriptors: %w", err)
		}
		return list, nil
	}

	var byName map[string]Descriptor
	if err := json.Unmarshal(data, &byName); err != nil {
		return nil, fmt.Errorf("decode descriptors: %w", err)
	}
	list := make([]Descriptor, 0, len(byName))
	for name, d := range byName {
		if d.Name == "" {
			d.Name = name
		}
		list = append(list, d)
	}
	return list, nil
}

func (d Descriptor) parseABI() (abi.ABI, error) {
	raw := bytes.TrimSpace(d.ABI)
	if len(raw) == 0 {
		return abi.ABI{}, chainerr.Resolution("", "contract %s: missing abi", d.Name)
	}
	// Some toolchains export the ABI as a JSON string.
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return abi.ABI{}, chainerr.Resolution("", "contract %s: abi: %v", d.Name, err)
		}
		raw = []byte(s)
	}
	parsed, err := abi.JSON(bytes.NewReader(raw))
	if err != nil {
		return abi.ABI{}, chainerr.Resolution("", "contract %s: abi: %v", d.Name, err)
	}
	return parsed, nil
}

// addressFor returns the deployment address on chainID.
func (d Descriptor) addressFor(chainID uint64) (common.Address, error) {
	raw := d.Address
	if addr, ok := d.Addresses[strconv.FormatUint(chainID, 10)]; ok {
		raw = addr
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return common.Address{}, chainerr.Resolution("", "contract %s: no address for chain %d", d.Name, chainID)
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, chainerr.Resolution("", "contract %s: invalid address %q", d.Name, raw)
	}
	return common.HexToAddress(raw), nil
}
