// Copyright (C) 2022  Brookhaven National Laboratory
//
// SPDX-License-Identifier: BSD-3-Clause

// Package htmlutil has just enough HTML walking to scrape links out of
// channel autoindex pages.
package htmlutil

import (
	"strings"

	"golang.org/x/net/html"
)

// VisitHTML walks the node tree depth-first, calling before on the way down and after on the way
// back up.  A non-nil error from either callback aborts the walk.
func VisitHTML(node *html.Node, before, after func(*html.Node) error) error {
	if before != nil {
		if err := before(node); err != nil {
			return err
		}
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if err := VisitHTML(child, before, after); err != nil {
			return err
		}
	}
	if after != nil {
		if err := after(node); err != nil {
			return err
		}
	}
	return nil
}

func GetAttr(node *html.Node, namespace, name string) (val string, ok bool) {
	if node == nil {
		return "", false
	}
	for _, attr := range node.Attr {
		if attr.Namespace == namespace && attr.Key == name {
			return attr.Val, true
		}
	}
	return "", false
}

// An Anchor is an `<a>` element's href together with its flattened inner text.
type Anchor struct {
	Href string
	Text string
}

// Anchors returns every `<a href>` in the tree, in document order.
func Anchors(root *html.Node) ([]Anchor, error) {
	var ret []Anchor
	err := VisitHTML(root, func(node *html.Node) error {
		if node.Type != html.ElementNode || node.DataAtom.String() != "a" {
			return nil
		}
		href, ok := GetAttr(node, "", "href")
		if !ok {
			return nil
		}
		var text strings.Builder
		_ = VisitHTML(node, func(inner *html.Node) error {
			if inner.Type == html.TextNode {
				text.WriteString(inner.Data)
			}
			return nil
		}, nil)
		ret = append(ret, Anchor{
			Href: href,
			Text: strings.TrimSpace(text.String()),
		})
		return nil
	}, nil)
	if err != nil {
		return nil, err
	}
	return ret, nil
}
