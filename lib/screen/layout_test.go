// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

package screen

import "testing"

func TestLayoutPaths(t *testing.T) {
	t.Parallel()

	layout := Layout{Dir: "/var/log/nodes"}
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"log by node", layout.LogFile("", "/robot/camera"), "/var/log/nodes/@robot@camera.log"},
		{"log by session", layout.LogFile("custom", "/robot/camera"), "/var/log/nodes/custom.log"},
		{"log unknown", layout.LogFile("", ""), "/var/log/nodes/unknown.log"},
		{"pid by node", layout.PidFile("", "/robot/camera"), "/var/log/nodes/@robot@camera.pid"},
		{"pid unknown", layout.PidFile("", ""), "/var/log/nodes/unknown.pid"},
		{"config by node", layout.ConfigFile("", "/robot/camera"), "/var/log/nodes/@robot@camera.conf"},
		{"config by session", layout.ConfigFile("s", ""), "/var/log/nodes/s.conf"},
		{"config unknown", layout.ConfigFile("", ""), "/var/log/nodes/unknown.conf"},
		{"domain log", layout.DomainLogFile("/robot/camera/"), "/var/log/nodes/robot_camera.log"},
		{"domain log empty", layout.DomainLogFile(""), ""},
		{"log level", layout.LogLevelFile("camera_driver"), "/var/log/nodes/camera_driver.rosconsole.config"},
	}
	for _, test := range tests {
		if test.got != test.want {
			t.Errorf("%s: got %q, want %q", test.name, test.got, test.want)
		}
	}
}

func TestArtifactsSkipsEmptyDomainLog(t *testing.T) {
	t.Parallel()

	layout := Layout{Dir: "/logs"}
	if got := len(layout.Artifacts("/robot/camera")); got != 3 {
		t.Errorf("Artifacts(node) has %d paths, want 3", got)
	}
	if got := len(layout.Artifacts("")); got != 2 {
		t.Errorf("Artifacts(\"\") has %d paths, want 2", got)
	}
}
