package emulator

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// EnvPrefix is the prefix of the variables the emulator image reads its
// projects from: PUBSUB_PROJECT1, PUBSUB_PROJECT2, ...
const EnvPrefix = "PUBSUB_PROJECT"

var ErrInvalidProjectSpec = errors.New("invalid project spec")

type TopicSpec struct {
	Name          string
	Subscriptions []string
}

// Project is one emulator project with the topics and subscriptions that
// must exist before tests run.
type Project struct {
	ID     string
	Topics []TopicSpec
}

// ParseProjectSpec parses "project,topic1:sub1:sub2,topic2".
func ParseProjectSpec(spec string) (Project, error) {
	parts := strings.Split(strings.TrimSpace(spec), ",")
	project := Project{ID: strings.TrimSpace(parts[0])}
	if project.ID == "" {
		return Project{}, fmt.Errorf("%w: missing project id in %q", ErrInvalidProjectSpec, spec)
	}

	for _, part := range parts[1:] {
		names := strings.Split(strings.TrimSpace(part), ":")
		topic := TopicSpec{Name: strings.TrimSpace(names[0])}
		if topic.Name == "" {
			return Project{}, fmt.Errorf("%w: empty topic name in %q", ErrInvalidProjectSpec, spec)
		}
		for _, sub := range names[1:] {
			sub = strings.TrimSpace(sub)
			if sub == "" {
				return Project{}, fmt.Errorf("%w: empty subscription for topic %s", ErrInvalidProjectSpec, topic.Name)
			}
			topic.Subscriptions = append(topic.Subscriptions, sub)
		}
		project.Topics = append(project.Topics, topic)
	}
	return project, nil
}

// String renders the project back into the emulator's env format.
func (p Project) String() string {
	var b strings.Builder
	b.WriteString(p.ID)
	for _, t := range p.Topics {
		b.WriteString(",")
		b.WriteString(t.Name)
		for _, s := range t.Subscriptions {
			b.WriteString(":")
			b.WriteString(s)
		}
	}
	return b.String()
}

// ProjectsFromEnv collects PUBSUB_PROJECT1..N from environ (os.Environ
// format), stopping at the first missing index.
func ProjectsFromEnv(environ []string) ([]Project, error) {
	values := make(map[int]string)
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, EnvPrefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(key, EnvPrefix))
		if err != nil || n < 1 {
			continue
		}
		values[n] = value
	}

	indexes := make([]int, 0, len(values))
	for n := range values {
		indexes = append(indexes, n)
	}
	sort.Ints(indexes)

	var projects []Project
	for i, n := range indexes {
		if n != i+1 {
			break
		}
		p, err := ParseProjectSpec(values[n])
		if err != nil {
			return nil, fmt.Errorf("%s%d: %w", EnvPrefix, n, err)
		}
		projects = append(projects, p)
	}
	return projects, nil
}

// NormalizeHost strips a scheme and trailing slash so the value can be
// used both as an HTTP host and a gRPC target.
func NormalizeHost(host string) string {
	host = strings.TrimSpace(host)
	host = strings.TrimPrefix(host, "http://")
	host = strings.TrimPrefix(host, "https://")
	return strings.TrimRight(host, "/")
}
