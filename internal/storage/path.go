package storage

import (
	"fmt"
	"regexp"
	"strings"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

var extensionPattern = regexp.MustCompile(`^[a-z0-9]{1,16}$`)

var contentTypes = map[string]string{
	"csv":     "text/csv",
	"parquet": "application/vnd.apache.parquet",
}

// BuildTableFileKey returns the object key of one raw table file, e.g.
// "Customer.csv". Store prefixes are applied by the store itself.
func BuildTableFileKey(tableName, extension string) (string, error) {
	if err := validatePathComponent(tableName, "table name"); err != nil {
		return "", err
	}
	if !extensionPattern.MatchString(extension) {
		return "", fmt.Errorf("invalid file extension: %q", extension)
	}
	return tableName + "." + extension, nil
}

// ParseTableFileKey splits a flat key such as "DETAIL.CSV" into its table
// name and lowercased extension. Nested keys never parse.
func ParseTableFileKey(key string) (table, extension string, err error) {
	dot := strings.LastIndexByte(key, '.')
	if dot <= 0 || strings.ContainsRune(key, '/') {
		return "", "", fmt.Errorf("invalid table file key: %q", key)
	}
	table, extension = key[:dot], strings.ToLower(key[dot+1:])
	if _, err := BuildTableFileKey(table, extension); err != nil {
		return "", "", err
	}
	return table, extension, nil
}

// ContentType is the MIME type stored with a table file of extension.
func ContentType(extension string) string {
	if ct, ok := contentTypes[strings.ToLower(extension)]; ok {
		return ct
	}
	return "application/octet-stream"
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
