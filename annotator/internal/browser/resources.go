// CLAUDE:SUMMARY Blocks configured resource types (images, fonts, media, stylesheets) on annotator tabs via request hijacking.
package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// configNames maps CDP resource types to their config spelling.
var configNames = map[proto.NetworkResourceType]string{
	proto.NetworkResourceTypeImage:      "images",
	proto.NetworkResourceTypeFont:       "fonts",
	proto.NetworkResourceTypeMedia:      "media",
	proto.NetworkResourceTypeStylesheet: "stylesheets",
}

type blockSet map[string]bool

func newBlockSet(types []string) blockSet {
	bs := make(blockSet, len(types))
	for _, t := range types {
		bs[strings.ToLower(strings.TrimSpace(t))] = true
	}
	return bs
}

// blocks reports whether requests of resType are failed. Both the config
// spelling ("images") and the CDP one ("Image") are accepted.
func (bs blockSet) blocks(resType proto.NetworkResourceType) bool {
	if name, ok := configNames[resType]; ok && bs[name] {
		return true
	}
	return bs[strings.ToLower(string(resType))]
}

// blockResources fails matching requests on page. The returned router must
// be stopped when the tab closes.
func blockResources(page *rod.Page, types []string) *rod.HijackRouter {
	bs := newBlockSet(types)
	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if bs.blocks(h.Request.Type()) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
	return router
}
