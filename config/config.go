/*
 * graphdb
 *
 * Copyright 2016 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

/*
Package config holds the store-level tunables named in SPEC_FULL.md §2: slab
sizes, WAL sync policy, the epoch reclamation interval, and the websocket
notifier port. Shaped after eliasdb's own config package - a package-level
Config map loaded from a JSON document with defaults filled in for anything
the document omits.
*/
package config

import (
	"fmt"
	"path"
	"strconv"

	"github.com/krotik/common/fileutil"
)

/*
DefaultConfigFile is the default config file path if none is given to
LoadConfigFile.
*/
var DefaultConfigFile = "graphdb.config.json"

/*
Known configuration keys.
*/
const (
	DataDir                = "DataDir"
	WALSyncMode            = "WALSyncMode"
	EpochReclaimIntervalMS = "EpochReclaimIntervalMS"
	ArenaSlabClassCount    = "ArenaSlabClassCount"
	MaxVertexNumDefault    = "MaxVertexNumDefault"
	NotifierPort           = "NotifierPort"
	NotifierHost           = "NotifierHost"
	EnableNotifier         = "EnableNotifier"
	LogLevel               = "LogLevel"
	LockFile               = "LockFile"
)

/*
DefaultConfig is the default configuration, used whenever a key is absent
from a loaded config file or LoadDefaultConfig is called.
*/
var DefaultConfig = map[string]interface{}{
	DataDir:                "db",
	WALSyncMode:            "fsync",
	EpochReclaimIntervalMS: "100",
	ArenaSlabClassCount:    "20",
	MaxVertexNumDefault:    "1048576",
	NotifierHost:           "localhost",
	NotifierPort:           "9191",
	EnableNotifier:         false,
	LogLevel:               "info",
	LockFile:               "graphdb.lck",
}

/*
Config is the actual configuration in use, populated by LoadConfigFile or
LoadDefaultConfig.
*/
var Config map[string]interface{}

/*
LoadConfigFile loads configfile, creating it with DefaultConfig's values if
it does not yet exist, and filling in any key the file omits from
DefaultConfig.
*/
func LoadConfigFile(configfile string) error {
	var err error

	Config, err = fileutil.LoadConfig(configfile, DefaultConfig)

	return err
}

/*
LoadDefaultConfig populates Config with a fresh copy of DefaultConfig,
ignoring any config file on disk.
*/
func LoadDefaultConfig() {
	data := make(map[string]interface{})
	for k, v := range DefaultConfig {
		data[k] = v
	}

	Config = data
}

/*
Str reads a config value as a string.
*/
func Str(key string) string {
	return fmt.Sprint(Config[key])
}

/*
Int reads a config value as an int64. Panics if the value cannot be parsed -
a malformed config file is a startup-time error, not a recoverable one.
*/
func Int(key string) int64 {
	ret, err := strconv.ParseInt(fmt.Sprint(Config[key]), 10, 64)
	if err != nil {
		panic(fmt.Sprintf("config: could not parse key %v as int: %v", key, err))
	}
	return ret
}

/*
Bool reads a config value as a bool. Panics if the value cannot be parsed,
per Int's reasoning.
*/
func Bool(key string) bool {
	ret, err := strconv.ParseBool(fmt.Sprint(Config[key]))
	if err != nil {
		panic(fmt.Sprintf("config: could not parse key %v as bool: %v", key, err))
	}
	return ret
}

/*
DataPath returns a path relative to the configured DataDir.
*/
func DataPath(parts ...string) string {
	return path.Join(Str(DataDir), path.Join(parts...))
}
