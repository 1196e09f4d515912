package preview

// overlayScript runs before any module. Load and runtime failures that
// escape the error boundary end up in a visible panel.
const overlayScript = `(function () {
  function show(title, detail) {
    var panel = document.getElementById("uigen-error");
    if (!panel) {
      panel = document.createElement("div");
      panel.id = "uigen-error";
      panel.setAttribute("role", "alert");
      panel.style.cssText = "position:fixed;inset:0;overflow:auto;padding:24px;background:#fff5f5;color:#8b0000;font:13px/1.5 ui-monospace,Menlo,monospace;z-index:2147483647;white-space:pre-wrap";
      (document.body || document.documentElement).appendChild(panel);
    }
    var h = document.createElement("div");
    h.style.cssText = "font-weight:bold;font-size:15px;margin:8px 0";
    h.textContent = title;
    var pre = document.createElement("div");
    pre.textContent = detail || "";
    panel.appendChild(h);
    panel.appendChild(pre);
  }
  window.__uigenShowError = show;
  window.addEventListener("error", function (e) {
    var err = e.error;
    show("Runtime error", err && err.stack ? err.stack : String(e.message || "script failed to load"));
  });
  window.addEventListener("unhandledrejection", function (e) {
    var r = e.reason;
    show("Unhandled rejection", r && r.stack ? r.stack : String(r));
  });
})();
`

// bootstrapScript loads the entry module named by the placeholder
// __ENTRY__ and renders its default export inside an error boundary.
const bootstrapScript = `import * as React from "react";
import { createRoot } from "react-dom/client";

class ErrorBoundary extends React.Component {
  constructor(props) {
    super(props);
    this.state = { error: null };
  }
  static getDerivedStateFromError(error) {
    return { error };
  }
  componentDidCatch(error, info) {
    console.error(error, info && info.componentStack);
  }
  render() {
    if (this.state.error) {
      const e = this.state.error;
      return React.createElement("pre", {
        role: "alert",
        style: { padding: 24, margin: 0, background: "#fff5f5", color: "#8b0000", whiteSpace: "pre-wrap", font: "13px/1.5 ui-monospace,Menlo,monospace" },
      }, "Render error\n\n" + (e && e.stack ? e.stack : String(e)));
    }
    return this.props.children;
  }
}

try {
  const mod = await import(__ENTRY__);
  const App = mod.default;
  if (typeof App !== "function" && !(App && typeof App === "object" && App.$$typeof)) {
    throw new Error(__ENTRY__ + " has no default export to render");
  }
  createRoot(document.getElementById("root")).render(
    React.createElement(ErrorBoundary, null, React.createElement(App)),
  );
} catch (err) {
  window.__uigenShowError("Failed to load " + __ENTRY__, err && err.stack ? err.stack : String(err));
}
`
