package preview

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Marker is the attribute carried by the injected script tag. A document that
// already contains it is returned unchanged.
const Marker = "data-simbuild-console"

// Endpoints served next to the bundle.
const (
	ConsolePath    = "/__simbuild/console"
	LiveReloadPath = "/__simbuild/livereload"
)

// MessageSource tags every message the capture script posts.
const MessageSource = "simbuild-preview"

// ScriptOptions selects the optional parts of the injected script.
type ScriptOptions struct {
	LiveReload bool
}

// CaptureScript returns the <script> element injected into HTML documents.
func CaptureScript(opts ScriptOptions) string {
	var b strings.Builder
	b.WriteString(`<script ` + Marker + `>(function(){`)
	b.WriteString(`if(window.__simbuildConsole)return;window.__simbuildConsole=true;`)
	b.WriteString(`var SOURCE="` + MessageSource + `",ENDPOINT="` + ConsolePath + `";`)
	b.WriteString(`function fmt(a){try{if(a instanceof Error)return a.stack||String(a);if(typeof a==="object")return JSON.stringify(a);}catch(e){}return String(a);}`)
	b.WriteString(`function send(type,level,args){var msg={source:SOURCE,type:type,level:level,message:Array.prototype.map.call(args,fmt).join(" "),timestamp:Date.now()};`)
	b.WriteString(`try{if(window.parent&&window.parent!==window)window.parent.postMessage(msg,"*");}catch(e){}`)
	b.WriteString(`try{if(navigator.sendBeacon)navigator.sendBeacon(ENDPOINT,new Blob([JSON.stringify(msg)],{type:"application/json"}));}catch(e){}}`)
	b.WriteString(`["log","info","warn","error","debug"].forEach(function(level){var orig=console[level];`)
	b.WriteString(`console[level]=function(){send("console",level,arguments);if(orig)orig.apply(console,arguments);};});`)
	b.WriteString(`window.addEventListener("error",function(e){send("error","error",[e.message+(e.filename?" ("+e.filename+":"+e.lineno+")":"")]);});`)
	b.WriteString(`window.addEventListener("unhandledrejection",function(e){send("unhandledrejection","error",["Unhandled rejection: "+fmt(e.reason)]);});`)
	if opts.LiveReload {
		b.WriteString(`(function connect(){if(!window.EventSource)return;var es=new EventSource("` + LiveReloadPath + `"),current=null;`)
		b.WriteString(`es.onmessage=function(e){try{var p=JSON.parse(e.data);if(current===null){current=p.revision;return;}if(p.revision&&p.revision!==current){location.reload();}}catch(_){}};`)
		b.WriteString(`es.onerror=function(){es.close();setTimeout(connect,2000);};})();`)
	}
	b.WriteString(`})();</script>`)
	return b.String()
}

// Inject inserts script right after the first opening <head> tag of doc. A
// document without a head gets the script prepended. Documents that already
// carry Marker are returned as is.
func Inject(doc []byte, script string) []byte {
	if bytes.Contains(doc, []byte(Marker)) {
		return doc
	}
	at := headEnd(doc)

	out := make([]byte, 0, len(doc)+len(script))
	out = append(out, doc[:at]...)
	out = append(out, script...)
	out = append(out, doc[at:]...)
	return out
}

// headEnd returns the offset just past the opening <head> tag, or 0 when the
// document has none before <body> or the first text.
func headEnd(doc []byte) int {
	z := html.NewTokenizer(bytes.NewReader(doc))
	offset := 0
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return 0
		}
		offset += len(z.Raw())

		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch atom.Lookup(name) {
			case atom.Head:
				return offset
			case atom.Html:
				continue
			default:
				return 0
			}
		case html.TextToken:
			if len(bytes.TrimSpace(z.Raw())) > 0 {
				return 0
			}
		}
	}
}
