// CLAUDE:SUMMARY Tracks CDP node IDs to tag, class and parent so removal events can be described after the node is gone.
package roddom

import (
	"strings"
	"sync"

	"github.com/go-rod/rod/lib/proto"
)

// nodeInfo is what a removal record needs once the node has left the page.
type nodeInfo struct {
	tag    string
	class  string
	parent proto.DOMNodeID
}

// nodeIndex mirrors the CDP node tree: tag, class and parent per node ID,
// plus ordered children for recursive removal.
type nodeIndex struct {
	mu       sync.RWMutex
	info     map[proto.DOMNodeID]nodeInfo
	children map[proto.DOMNodeID][]proto.DOMNodeID
}

func newNodeIndex() *nodeIndex {
	return &nodeIndex{
		info:     make(map[proto.DOMNodeID]nodeInfo),
		children: make(map[proto.DOMNodeID][]proto.DOMNodeID),
	}
}

// reset replaces the whole index with the tree rooted at root, as returned
// by DOM.getDocument.
func (ni *nodeIndex) reset(root *proto.DOMNode) {
	ni.mu.Lock()
	defer ni.mu.Unlock()
	ni.info = make(map[proto.DOMNodeID]nodeInfo)
	ni.children = make(map[proto.DOMNodeID][]proto.DOMNodeID)
	ni.walkLocked(root, 0)
}

func (ni *nodeIndex) walkLocked(node *proto.DOMNode, parent proto.DOMNodeID) {
	if node == nil {
		return
	}
	ni.info[node.NodeID] = nodeInfo{
		tag:    tagOf(node),
		class:  attrOf(node.Attributes, "class"),
		parent: parent,
	}
	for _, child := range node.Children {
		ni.children[node.NodeID] = append(ni.children[node.NodeID], child.NodeID)
		ni.walkLocked(child, node.NodeID)
	}
	for _, sr := range node.ShadowRoots {
		ni.walkLocked(sr, node.NodeID)
	}
}

// add registers a node inserted under parent, with whatever subtree CDP
// sent along.
func (ni *nodeIndex) add(parent proto.DOMNodeID, node *proto.DOMNode) {
	ni.mu.Lock()
	defer ni.mu.Unlock()
	ni.children[parent] = append(ni.children[parent], node.NodeID)
	ni.walkLocked(node, parent)
}

// setChildren records children delivered by DOM.setChildNodes after a
// DOM.requestChildNodes call.
func (ni *nodeIndex) setChildren(parent proto.DOMNodeID, nodes []*proto.DOMNode) {
	ni.mu.Lock()
	defer ni.mu.Unlock()
	for _, id := range ni.children[parent] {
		ni.removeLocked(id)
	}
	delete(ni.children, parent)
	for _, n := range nodes {
		ni.children[parent] = append(ni.children[parent], n.NodeID)
		ni.walkLocked(n, parent)
	}
}

// setClass keeps the class of a tracked node current.
func (ni *nodeIndex) setClass(id proto.DOMNodeID, class string) {
	ni.mu.Lock()
	defer ni.mu.Unlock()
	if info, ok := ni.info[id]; ok {
		info.class = class
		ni.info[id] = info
	}
}

// lookup returns the tracked description of id.
func (ni *nodeIndex) lookup(id proto.DOMNodeID) (nodeInfo, bool) {
	ni.mu.RLock()
	defer ni.mu.RUnlock()
	info, ok := ni.info[id]
	return info, ok
}

// remove drops id and its whole subtree, returning the node's description.
func (ni *nodeIndex) remove(id proto.DOMNodeID) (nodeInfo, bool) {
	ni.mu.Lock()
	defer ni.mu.Unlock()
	info, ok := ni.info[id]
	ni.removeLocked(id)
	return info, ok
}

func (ni *nodeIndex) removeLocked(id proto.DOMNodeID) {
	for _, child := range ni.children[id] {
		ni.removeLocked(child)
	}
	if info, ok := ni.info[id]; ok {
		kids := ni.children[info.parent]
		for i, k := range kids {
			if k == id {
				ni.children[info.parent] = append(kids[:i], kids[i+1:]...)
				break
			}
		}
	}
	delete(ni.info, id)
	delete(ni.children, id)
}

func (ni *nodeIndex) len() int {
	ni.mu.RLock()
	defer ni.mu.RUnlock()
	return len(ni.info)
}

// tagOf is the lower-case element name, "" for non-element nodes.
func tagOf(node *proto.DOMNode) string {
	if node.NodeType != 1 {
		return ""
	}
	if node.LocalName != "" {
		return node.LocalName
	}
	return strings.ToLower(node.NodeName)
}

// attrOf reads name from CDP's flat [name, value, name, value...] list.
func attrOf(attrs []string, name string) string {
	for i := 0; i+1 < len(attrs); i += 2 {
		if attrs[i] == name {
			return attrs[i+1]
		}
	}
	return ""
}
