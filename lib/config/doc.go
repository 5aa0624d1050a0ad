// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads node manager configuration.
//
// Values are layered, later layers winning:
//
//  1. compiled-in defaults ([Default])
//  2. an optional YAML file (unknown keys are rejected)
//  3. an optional dotenv file, which only populates variables that are
//     not already set in the process environment
//  4. environment variables with the NODEMGR_ prefix, for example
//     NODEMGR_LOG_DIR or NODEMGR_BROKER_PORT
//
// [Config.Validate] reports problems as *fault.ConfigurationError.
package config
