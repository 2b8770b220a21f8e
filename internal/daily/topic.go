// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package daily

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
	"gopkg.in/yaml.v3"
)

// Topic is a content category chats can subscribe to.
type Topic struct {
	// Name identifies the topic in the preference store.
	Name string `yaml:"name"`
	// Prefix is prepended to the date key to get the article object name.
	Prefix string `yaml:"prefix"`
	// Decoration is prepended to every article, separated by a space.
	Decoration string `yaml:"decoration"`
	// Command is the bot command, without a slash, that toggles the
	// subscription.
	Command string `yaml:"command"`
	// Title is the phrase used in bot replies, e.g. "статті стоїка".
	Title string `yaml:"title"`
}

// DefaultTopics returns the built-in topics.
func DefaultTopics() []Topic {
	return []Topic{
		{
			Name:       "stoic",
			Prefix:     "stoic/",
			Decoration: "📖",
			Command:    "stoic",
			Title:      "статті стоїка",
		},
		{
			Name:       "parent",
			Prefix:     "parent/",
			Decoration: "👶🏻",
			Command:    "parent",
			Title:      "статті про батьківство",
		},
	}
}

var nameRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// reservedCommands can't be used as topic commands.
var reservedCommands = []string{"start", "unsubscribe_from_all"}

// ValidateTopics checks that topics are usable together.
func ValidateTopics(topics []Topic) error {
	if len(topics) == 0 {
		return errors.New("no topics defined")
	}
	names := make(map[string]bool)
	commands := make(map[string]bool)
	for i, t := range topics {
		if !nameRe.MatchString(t.Name) {
			return fmt.Errorf("topic %d: invalid name %q", i, t.Name)
		}
		if !nameRe.MatchString(t.Command) {
			return fmt.Errorf("topic %q: invalid command %q", t.Name, t.Command)
		}
		if t.Prefix == "" {
			return fmt.Errorf("topic %q: empty prefix", t.Name)
		}
		if names[t.Name] {
			return fmt.Errorf("topic %q: duplicate name", t.Name)
		}
		if commands[t.Command] {
			return fmt.Errorf("topic %q: duplicate command %q", t.Name, t.Command)
		}
		for _, c := range reservedCommands {
			if t.Command == c {
				return fmt.Errorf("topic %q: command %q is reserved", t.Name, t.Command)
			}
		}
		names[t.Name] = true
		commands[t.Command] = true
	}
	return nil
}

// LoadTopics reads topics from a Starlark (.star) or YAML (.yaml, .yml) file.
//
// A Starlark file defines a global list named topics, built with the topic
// function:
//
//	topics = [
//	    topic(name = "stoic", prefix = "stoic/", decoration = "📖", title = "статті стоїка"),
//	]
//
// A YAML file contains a list of mappings with the same keys. The command
// defaults to the topic name.
func LoadTopics(path string) ([]Topic, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var topics []Topic
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".star":
		topics, err = parseStarlarkTopics(filepath.Base(path), b)
	case ".yaml", ".yml":
		topics, err = parseYAMLTopics(b)
	default:
		return nil, fmt.Errorf("%s: unsupported topics file extension %q", path, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	for i := range topics {
		if topics[i].Command == "" {
			topics[i].Command = topics[i].Name
		}
	}
	if err := ValidateTopics(topics); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return topics, nil
}

func parseYAMLTopics(b []byte) ([]Topic, error) {
	var topics []Topic
	if err := yaml.Unmarshal(b, &topics); err != nil {
		return nil, err
	}
	return topics, nil
}

type topicValue struct{ Topic }

func (t *topicValue) String() string        { return fmt.Sprintf("<topic name=%q>", t.Name) }
func (t *topicValue) Type() string          { return "topic" }
func (t *topicValue) Freeze()               {} // immutable
func (t *topicValue) Truth() starlark.Bool  { return starlark.Bool(t.Name != "") }
func (t *topicValue) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable: %s", t.Type()) }

func topicBuiltin(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) > 0 {
		return nil, fmt.Errorf("unexpected positional arguments")
	}
	t := new(topicValue)
	if err := starlark.UnpackArgs("topic", args, kwargs,
		"name", &t.Name,
		"prefix", &t.Prefix,
		"decoration?", &t.Decoration,
		"command?", &t.Command,
		"title?", &t.Title,
	); err != nil {
		return nil, err
	}
	return t, nil
}

func parseStarlarkTopics(filename string, src []byte) ([]Topic, error) {
	globals, err := starlark.ExecFileOptions(
		&syntax.FileOptions{TopLevelControl: true},
		&starlark.Thread{Name: filename},
		filename,
		src,
		starlark.StringDict{
			"topic": starlark.NewBuiltin("topic", topicBuiltin),
		},
	)
	if err != nil {
		return nil, err
	}

	list, ok := globals["topics"].(*starlark.List)
	if !ok {
		return nil, errors.New("topics must be defined and be a list")
	}

	topics := make([]Topic, 0, list.Len())
	for i := range list.Len() {
		t, ok := list.Index(i).(*topicValue)
		if !ok {
			return nil, fmt.Errorf("topics[%d] is %s, not topic", i, list.Index(i).Type())
		}
		topics = append(topics, t.Topic)
	}
	return topics, nil
}
