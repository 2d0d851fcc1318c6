package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/prizepool/internal/app/services/params"
)

// ParamsFile is the YAML layout of the parameter file.
type ParamsFile struct {
	Admin  string          `yaml:"admin"`
	Params params.Document `yaml:"params"`
}

// LoadParams reads the admin and the initial parameter set from path. adminOverride,
// when non-empty, replaces the file's admin.
func LoadParams(path, adminOverride string) (common.Address, params.Set, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return common.Address{}, params.Set{}, fmt.Errorf("read params file: %w", err)
	}
	return ParseParams(data, adminOverride)
}

// ParseParams is LoadParams on an in-memory document.
func ParseParams(data []byte, adminOverride string) (common.Address, params.Set, error) {
	var file ParamsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return common.Address{}, params.Set{}, fmt.Errorf("parse params file: %w", err)
	}

	raw := strings.TrimSpace(file.Admin)
	if adminOverride != "" {
		raw = strings.TrimSpace(adminOverride)
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, params.Set{}, fmt.Errorf("%w: admin %q is not an address", ErrInvalidConfig, raw)
	}

	set, err := file.Params.Set()
	if err != nil {
		return common.Address{}, params.Set{}, err
	}
	return common.HexToAddress(raw), set, nil
}
