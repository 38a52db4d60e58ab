package preview

import "net/http"

// clientScript connects to the hub and applies reload messages. On "css"
// it re-requests every stylesheet with a cache buster; on "reload" it reloads
// the page. Lost connections are retried.
const clientScript = `(function () {
  var proto = location.protocol === "https:" ? "wss://" : "ws://";
  var url = proto + location.host + "` + WSPath + `";

  function refreshStyles() {
    var links = document.querySelectorAll('link[rel="stylesheet"]');
    var stamp = Date.now();
    for (var i = 0; i < links.length; i++) {
      var href = links[i].getAttribute("href");
      if (!href) continue;
      href = href.replace(/([?&])__assetflow=\d+&?/, "$1").replace(/[?&]$/, "");
      links[i].setAttribute("href", href + (href.indexOf("?") < 0 ? "?" : "&") + "__assetflow=" + stamp);
    }
  }

  function connect(delay) {
    var ws = new WebSocket(url);
    ws.onopen = function () { delay = 500; };
    ws.onmessage = function (ev) {
      var msg;
      try { msg = JSON.parse(ev.data); } catch (e) { return; }
      if (msg.type === "css") refreshStyles();
      else if (msg.type === "reload") location.reload();
    };
    ws.onclose = function () {
      setTimeout(function () { connect(Math.min(delay * 2, 5000)); }, delay);
    };
  }

  connect(500);
})();
`

func serveClientScript(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write([]byte(clientScript))
}
