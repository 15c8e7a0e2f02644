// Comfypredict exposes a fixed ComfyUI workflow as a small, typed prediction API.
// A request is validated, bound onto a fresh copy of an API-format workflow template,
// executed by a ComfyUI process, and the produced images are re-encoded to the
// requested format. The binding of request parameters to workflow nodes is driven by a
// configurable role table rather than hard-coded node IDs.
package comfypredict
