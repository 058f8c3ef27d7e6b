/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package confluence

import (
    "strings"
    "testing"
)

func TestStripStorageHTML(t *testing.T) {
    in := `<h1>Deployment 2026-08-15</h1><table><tr><td>CMDR-12</td><td>passed</td></tr><tr><td>CMDR-13</td><td>Level II test failed</td></tr></table><p>Notes: rollout   done</p>`
    out := stripStorageHTML(in)
    lines := strings.Split(out, "\n")
    if len(lines) < 3 {
        t.Fatalf("expected one line per row, got %q", out)
    }
    found := false
    for _, l := range lines {
        if l == "CMDR-13 Level II test failed" { found = true }
    }
    if !found {
        t.Fatalf("table row not flattened to one line: %q", out)
    }
    if strings.Contains(out, "<") {
        t.Fatalf("markup leaked: %q", out)
    }
}
