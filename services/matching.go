package services

import (
	"regexp"
	"strings"

	"github.com/caio-sobreiro/modalitysim/dicom"
)

// matchIdentifier reports whether candidate satisfies every matching key of
// query. Empty keys are universal; sequence keys match when any candidate
// item matches the first query item.
func matchIdentifier(query, candidate *dicom.Dataset) bool {
	for tag, element := range query.Elements {
		if tag == dicom.TagSpecificCharacterSet {
			continue
		}

		if element.VR == dicom.VR_SQ {
			items, _ := element.Value.([]*dicom.Dataset)
			if len(items) == 0 || !hasMatchingKeys(items[0]) {
				continue
			}
			matched := false
			for _, item := range candidate.GetSequence(tag) {
				if matchIdentifier(items[0], item) {
					matched = true
					break
				}
			}
			if !matched {
				return false
			}
			continue
		}

		key := query.GetString(tag)
		if key == "" {
			continue
		}
		if !matchValue(element.VR, key, candidate.GetString(tag)) {
			return false
		}
	}
	return true
}

// hasMatchingKeys reports whether ds holds any non-universal key.
func hasMatchingKeys(ds *dicom.Dataset) bool {
	for tag, element := range ds.Elements {
		if tag == dicom.TagSpecificCharacterSet {
			continue
		}
		if element.VR == dicom.VR_SQ {
			items, _ := element.Value.([]*dicom.Dataset)
			if len(items) > 0 && hasMatchingKeys(items[0]) {
				return true
			}
			continue
		}
		if ds.GetString(tag) != "" {
			return true
		}
	}
	return false
}

func matchValue(vr, key, value string) bool {
	switch {
	case (vr == dicom.VR_DA || vr == dicom.VR_TM) && strings.Contains(key, "-"):
		return matchRange(key, value)
	case strings.ContainsAny(key, "*?"):
		return wildcardPattern(key).MatchString(value)
	default:
		return key == value
	}
}

// matchRange handles "from-to", "from-" and "-to". Dates and times in their
// canonical form compare correctly as strings.
func matchRange(key, value string) bool {
	if value == "" {
		return false
	}
	from, to, _ := strings.Cut(key, "-")
	if from != "" && value < from {
		return false
	}
	if to != "" && value > to {
		return false
	}
	return true
}

func wildcardPattern(key string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range key {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}

// projectIdentifier builds a response identifier holding exactly the keys
// present in query, valued from candidate.
func projectIdentifier(query, candidate *dicom.Dataset) *dicom.Dataset {
	out := dicom.NewDataset()
	if charset, ok := candidate.GetElement(dicom.TagSpecificCharacterSet); ok {
		out.AddElement(charset.Tag, charset.VR, charset.Value)
	}

	for tag, element := range query.Elements {
		if tag == dicom.TagSpecificCharacterSet {
			continue
		}

		if element.VR == dicom.VR_SQ {
			queryItems, _ := element.Value.([]*dicom.Dataset)
			var items []*dicom.Dataset
			for _, item := range candidate.GetSequence(tag) {
				if len(queryItems) == 0 || queryItems[0].Len() == 0 {
					items = append(items, item)
					continue
				}
				if !hasMatchingKeys(queryItems[0]) || matchIdentifier(queryItems[0], item) {
					items = append(items, projectIdentifier(queryItems[0], item))
				}
			}
			out.AddSequence(tag, items...)
			continue
		}

		if value, ok := candidate.GetElement(tag); ok {
			out.AddElement(tag, value.VR, value.Value)
		} else {
			out.AddElement(tag, element.VR, "")
		}
	}
	return out
}
