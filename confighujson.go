package shmcache

// confighujson.go loads an Options overlay from a commented-JSON (HuJSON)
// config file, for embedders that prefer a file to constructing Options in
// Go. Grounded on calvinalkan-agent-task/config.go's parseConfig: standardize
// via hujson.Standardize then json.Unmarshal into a plain struct.

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailscale/hujson"
)

// fileOptions mirrors the subset of Options that makes sense to externalise
// to a config file: geometry, TTL, and policy flags. Codec and the hook
// functions remain Go-level concerns and are never part of the file.
type fileOptions struct {
	SharePath     string `json:"share_file,omitempty"`
	InitFile      bool   `json:"init_file,omitempty"`
	TestFile      bool   `json:"test_file,omitempty"`
	RawValues     bool   `json:"raw_values,omitempty"`
	ExpireTime    string `json:"expire_time,omitempty"`
	CacheSize     string `json:"cache_size,omitempty"`
	PageSize      string `json:"page_size,omitempty"`
	NumPages      uint32 `json:"num_pages,omitempty"`
	StartSlots    uint32 `json:"start_slots,omitempty"`
	WriteAction   string `json:"write_action,omitempty"`
	CacheNotFound bool   `json:"cache_not_found,omitempty"`
	EmptyOnExit   bool   `json:"empty_on_exit,omitempty"`
}

// LoadOptionsFile reads a HuJSON (JSON with comments and trailing commas)
// config file at path and overlays it onto base, returning the merged
// Options. Fields absent from the file leave base's value untouched. Boolean
// fields can only switch an option on: false in the file leaves base's value
// as it is.
func LoadOptionsFile(path string, base Options) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, newErr("LoadOptionsFile", KindConfigInvalid, -1, fmt.Errorf("read %s: %w", path, err))
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return base, newErr("LoadOptionsFile", KindConfigInvalid, -1, fmt.Errorf("invalid HuJSON in %s: %w", path, err))
	}

	var fo fileOptions
	if err := json.Unmarshal(standardized, &fo); err != nil {
		return base, newErr("LoadOptionsFile", KindConfigInvalid, -1, fmt.Errorf("invalid config in %s: %w", path, err))
	}

	return mergeFileOptions(base, fo)
}

func mergeFileOptions(o Options, fo fileOptions) (Options, error) {
	if fo.SharePath != "" {
		o.SharePath = fo.SharePath
	}
	if fo.InitFile {
		o.InitFile = true
	}
	if fo.TestFile {
		o.TestFile = true
	}
	if fo.RawValues {
		o.RawValues = true
	}
	if fo.ExpireTime != "" {
		d, err := ParseDuration(fo.ExpireTime)
		if err != nil {
			return o, newErr("LoadOptionsFile", KindConfigInvalid, -1, fmt.Errorf("expire_time: %w", err))
		}
		o.ExpireTime = d
	}
	if fo.CacheSize != "" {
		sz, err := ParseSize(fo.CacheSize)
		if err != nil {
			return o, newErr("LoadOptionsFile", KindConfigInvalid, -1, fmt.Errorf("cache_size: %w", err))
		}
		if o.NumPages == 0 {
			o.NumPages = defaultNumPages
		}
		o.PageSize = uint32(sz / uint64(o.NumPages))
	}
	if fo.PageSize != "" {
		sz, err := ParseSize(fo.PageSize)
		if err != nil {
			return o, newErr("LoadOptionsFile", KindConfigInvalid, -1, fmt.Errorf("page_size: %w", err))
		}
		o.PageSize = uint32(sz)
	}
	if fo.NumPages != 0 {
		o.NumPages = fo.NumPages
	}
	if fo.StartSlots != 0 {
		o.StartSlots = fo.StartSlots
	}
	switch fo.WriteAction {
	case "write_back":
		o.WriteAction = WriteBack
	case "write_through":
		o.WriteAction = WriteThrough
	case "":
	default:
		return o, newErr("LoadOptionsFile", KindConfigInvalid, -1, fmt.Errorf("write_action: unknown value %q", fo.WriteAction))
	}
	if fo.CacheNotFound {
		o.CacheNotFound = true
	}
	if fo.EmptyOnExit {
		o.EmptyOnExit = true
	}
	return o, nil
}
