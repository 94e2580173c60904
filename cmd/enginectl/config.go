package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// request is one connect profile: what engine to reach and how to let
// go of it on exit.
type request struct {
	Version       string
	Port          int
	PID           int
	ForceNew      bool
	NonGraphical  bool
	CloseProjects bool
	CloseApp      bool
}

type fileRequest struct {
	Version       string `toml:"version"`
	Port          int    `toml:"port"`
	PID           int    `toml:"pid"`
	ForceNew      bool   `toml:"force_new"`
	NonGraphical  bool   `toml:"non_graphical"`
	CloseProjects bool   `toml:"close_projects"`
	CloseApp      bool   `toml:"close_app"`
}

func loadRequest(path string, base request) (request, error) {
	out := base

	var raw fileRequest
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return request{}, fmt.Errorf("load request profile: %w", err)
	}

	if meta.IsDefined("version") {
		v := strings.TrimSpace(raw.Version)
		if v != "" {
			out.Version = v
		}
	}
	if meta.IsDefined("port") {
		out.Port = raw.Port
	}
	if meta.IsDefined("pid") {
		out.PID = raw.PID
	}
	if meta.IsDefined("force_new") {
		out.ForceNew = raw.ForceNew
	}
	if meta.IsDefined("non_graphical") {
		out.NonGraphical = raw.NonGraphical
	}
	if meta.IsDefined("close_projects") {
		out.CloseProjects = raw.CloseProjects
	}
	if meta.IsDefined("close_app") {
		out.CloseApp = raw.CloseApp
	}

	return out, nil
}
