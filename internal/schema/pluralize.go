// Copyright 2024 OnChain Media Corporation
// SPDX-License-Identifier: Apache-2.0

package schema

import "strings"

var uncountable = map[string]bool{
	"data": true, "equipment": true, "fish": true, "information": true,
	"metadata": true, "money": true, "news": true, "rice": true,
	"series": true, "sheep": true, "species": true,
}

var irregular = map[string]string{
	"child":  "children",
	"man":    "men",
	"mouse":  "mice",
	"person": "people",
	"woman":  "women",
}

// Pluralize returns the plural of a lowercase English noun, following the
// collection naming convention of the common MongoDB object mappers:
// Product becomes products, Category categories, Box boxes.
func Pluralize(word string) string {
	if word == "" || uncountable[word] {
		return word
	}
	if p, ok := irregular[word]; ok {
		return p
	}
	switch {
	case strings.HasSuffix(word, "ss"), strings.HasSuffix(word, "sh"),
		strings.HasSuffix(word, "ch"), strings.HasSuffix(word, "x"),
		strings.HasSuffix(word, "z"):
		return word + "es"
	case strings.HasSuffix(word, "s"):
		return word
	case strings.HasSuffix(word, "y") && len(word) > 1 && !strings.ContainsRune("aeiou", rune(word[len(word)-2])):
		return word[:len(word)-1] + "ies"
	}
	return word + "s"
}
