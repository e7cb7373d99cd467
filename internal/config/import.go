package config

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/coco-alen/gpu-usage-view/internal/errors"
)

// legacyServer is one entry of the older server_info.json format.
// Port and update_step were written as either numbers or strings.
type legacyServer struct {
	Name       string      `json:"name"`
	IP         string      `json:"ip"`
	Username   string      `json:"username"`
	Password   string      `json:"password"`
	Port       json.Number `json:"port"`
	UpdateStep json.Number `json:"update_step"`
}

// ImportServerInfo reads a server_info.json list and converts it to servers.
// Entries are returned in file order with defaults applied and each one validated.
func ImportServerInfo(r io.Reader) ([]Server, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var entries []legacyServer
	if err := dec.Decode(&entries); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Couldn't parse the server list",
			"Expected a JSON array of {name, ip, username, password, port, update_step}.")
	}

	servers := make([]Server, 0, len(entries))
	for i, e := range entries {
		port, err := legacyInt(e.Port)
		if err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrConfig,
				fmt.Sprintf("Entry %d (%s) has a bad port", i+1, e.Name), "")
		}
		interval, err := legacyInt(e.UpdateStep)
		if err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrConfig,
				fmt.Sprintf("Entry %d (%s) has a bad update_step", i+1, e.Name), "")
		}

		s := Server{
			Name:     strings.TrimSpace(e.Name),
			Host:     strings.TrimSpace(e.IP),
			Username: e.Username,
			Password: e.Password,
			Port:     port,
			Interval: interval,
		}.withDefaults()

		if err := ValidateServer(s); err != nil {
			return nil, err
		}
		servers = append(servers, s)
	}

	return servers, nil
}

func legacyInt(n json.Number) (int, error) {
	s := strings.TrimSpace(n.String())
	if s == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}
