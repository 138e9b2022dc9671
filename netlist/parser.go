package netlist

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// parsePlain reads separator-delimited CIDR literals. With the newline
// separator it scans line by line, skipping blanks and #/; comment lines and
// stripping inline comments. Unparsable entries are skipped with a warning
// and counted; they never fail the read. origin names the source (path, URL,
// "config") for diagnostics.
func parsePlain(r io.Reader, sep, origin string) ([]Block, int, error) {
	if sep == "" || sep == "\n" {
		return parseLines(r, origin)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, err
	}

	var blocks []Block
	skipped := 0
	for _, entry := range strings.Split(string(data), sep) {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		p, err := ParseBlock(entry)
		if err != nil {
			log.Warnf("skipping network entry in %s: %s", origin, err)
			skipped++
			continue
		}
		blocks = append(blocks, Block{Prefix: p})
	}
	return blocks, skipped, nil
}

func parseLines(r io.Reader, origin string) ([]Block, int, error) {
	var blocks []Block
	skipped := 0

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		// Inline comments ("10.0.0.0/8 ; corp range")
		if idx := strings.IndexAny(line, ";#"); idx != -1 {
			line = strings.TrimSpace(line[:idx])
			if line == "" {
				continue
			}
		}
		p, err := ParseBlock(line)
		if err != nil {
			log.Warnf("skipping network entry in %s: %s", origin, err)
			skipped++
			continue
		}
		blocks = append(blocks, Block{Prefix: p})
	}
	if err := scanner.Err(); err != nil {
		return nil, skipped, err
	}
	return blocks, skipped, nil
}

// parseMapping decodes a YAML (or JSON) document mapping CIDR strings to
// arbitrary payload values. A malformed document is an error; individual
// keys that are not valid CIDRs are skipped with a warning.
func parseMapping(r io.Reader, origin string) ([]Block, int, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, err
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, 0, fmt.Errorf("malformed network mapping in %s: %w", origin, err)
	}
	blocks, skipped := mappingBlocks(raw, origin)
	return blocks, skipped, nil
}

// mappingBlocks converts an in-memory CIDR→payload mapping (inline
// configuration or a decoded document) into blocks.
func mappingBlocks(m map[string]any, origin string) ([]Block, int) {
	blocks := make([]Block, 0, len(m))
	skipped := 0
	for k, v := range m {
		p, err := ParseBlock(k)
		if err != nil {
			log.Warnf("skipping network mapping key in %s: %s", origin, err)
			skipped++
			continue
		}
		blocks = append(blocks, Block{Prefix: p, Payload: v})
	}
	return blocks, skipped
}
