package mqclients

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var ErrUnknownMQClient = errors.New("unknown mq client")

var mqClients = make(map[string]func() MQClient)

func registerMQClient(name string, create func() MQClient) {
	mqClients[name] = create
}

// MQClients lists the names of every available mq client.
func MQClients() []string {
	names := make([]string, 0, len(mqClients))

	for name := range mqClients {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// NewMQClient creates an unconnected mq client by name.
func NewMQClient(name string) (MQClient, error) {
	create, ok := mqClients[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMQClient, name)
	}

	return create(), nil
}

// GetEntry returns the value of key, matching keys case insensitively.
func GetEntry(m map[string]any, key string) any {
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v
		}
	}

	return nil
}

func stringEntry(m map[string]any, key string) (string, error) {
	switch value := GetEntry(m, key).(type) {
	case string:
		return value, nil
	case nil:
		return "", fmt.Errorf("missing %s", key)
	default:
		return fmt.Sprint(value), nil
	}
}

func boolEntry(m map[string]any, key string, fallback bool) bool {
	switch value := GetEntry(m, key).(type) {
	case bool:
		return value
	case string:
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}

	return fallback
}

func intEntry(m map[string]any, key string, fallback int) (int, error) {
	switch value := GetEntry(m, key).(type) {
	case nil:
		return fallback, nil
	case int:
		return value, nil
	case string:
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("failed to parse %s: %w", key, err)
		}

		return parsed, nil
	default:
		return 0, fmt.Errorf("unexpected type %T for %s", value, key)
	}
}
