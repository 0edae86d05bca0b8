// Copyright (c) 2026 Lerian Studio. All rights reserved.
// Use of this source code is governed by the Elastic License 2.0
// that can be found in the LICENSE file.

package norm

import (
	"os"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// GetenvOrDefault encapsulate built-in os.Getenv behavior but if key is not present it returns the defaultValue.
func GetenvOrDefault(key string, defaultValue string) string {
	str := os.Getenv(key)
	if strings.TrimSpace(str) == "" {
		return defaultValue
	}

	return str
}

// GetenvBoolOrDefault returns the value of os.Getenv(key string) value as bool or defaultValue if error
// If the environment variable (key) is not defined, it returns the given defaultValue
// If the environment variable (key) is not a valid bool format, it returns the given defaultValue.
func GetenvBoolOrDefault(key string, defaultValue bool) bool {
	str := os.Getenv(key)

	val, err := strconv.ParseBool(str)
	if err != nil {
		return defaultValue
	}

	return val
}

// GetenvIntOrDefault returns the value of os.Getenv(key string) value as int or defaultValue if error
// If the environment variable (key) is not defined, it returns the given defaultValue
// If the environment variable (key) is not a valid int format, it returns the given defaultValue.
func GetenvIntOrDefault(key string, defaultValue int64) int64 {
	str := os.Getenv(key)

	val, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return defaultValue
	}

	return val
}

var localEnvOnce sync.Once

// InitLocalEnvConfig loads a .env file to set up local environment vars.
// It's called once per application process and only when ENV_NAME is "local".
func InitLocalEnvConfig() {
	if GetenvOrDefault("ENV_NAME", "local") != "local" {
		return
	}

	localEnvOnce.Do(func() {
		_ = godotenv.Load()
	})
}

// SetConfigFromEnvVars builds a struct by setting it fields values using the "env" tag
// Constraints: s any - must be an initialized pointer
// Supported types: String, Boolean, Int, Int8, Int16, Int32, Int64 and time.Duration.
func SetConfigFromEnvVars(s any) error {
	v := reflect.ValueOf(s)

	t := v.Type()
	if t.Kind() != reflect.Ptr {
		return errors.New("s must be an pointer")
	}

	e := t.Elem()
	for i := 0; i < e.NumField(); i++ {
		f := e.Field(i)

		tag, ok := f.Tag.Lookup("env")
		if !ok || tag == "-" {
			continue
		}

		values := strings.Split(tag, ",")
		if len(values) == 0 {
			continue
		}

		fv := v.Elem().FieldByName(f.Name)
		if !fv.CanSet() {
			continue
		}

		// Absent variables leave the field untouched so file-loaded values
		// survive the overlay.
		raw, present := os.LookupEnv(values[0])
		if !present {
			continue
		}

		if f.Type == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return errors.Wrapf(err, "parsing %s as duration", values[0])
			}

			fv.SetInt(int64(d))

			continue
		}

		switch k := fv.Kind(); k {
		case reflect.Bool:
			fv.SetBool(GetenvBoolOrDefault(values[0], false))
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			fv.SetInt(GetenvIntOrDefault(values[0], 0))
		default:
			fv.SetString(raw)
		}
	}

	return nil
}

// EnsureConfigFromEnvVars ensures that an interface will be settled using SetConfigFromEnvVars anyway.
func EnsureConfigFromEnvVars(s any) any {
	if err := SetConfigFromEnvVars(s); err != nil {
		panic(err)
	}

	return s
}
