package config

// SampleManifest is written by `apphost init`: an API, a dev proxy container
// watching the API, and a web frontend routed through the proxy that waits
// for both and is health checked like the API.
const SampleManifest = `# apphost manifest
# Values may reference another resource's endpoint as {resource.endpoint}.

[[resources]]
name = "apiservice"
command = "dotnet"
args = ["run", "--project", "ApiService"]

  [[resources.endpoints]]
  name = "https"
  port = 7001
  env = "PORT"

  [resources.health]
  endpoint = "https"
  path = "/health"
  interval = "1s"
  timeout = "5s"
  failure_threshold = 30

[[resources]]
name = "devproxy"
image = "ghcr.io/dotnet/dev-proxy:latest"
args = ["--config-file", "/config/devproxyrc.json", "--urls-to-watch", "{apiservice.https}/*"]
wait_for = ["apiservice"]

  [[resources.endpoints]]
  name = "http"
  target_port = 8000

  [[resources.mounts]]
  source = "devproxy/config"
  target = "/config"
  read_only = true

  [[resources.mounts]]
  source = "devproxy/cert"
  target = "/home/devproxy/.config/dev-proxy/rootCert"

[[resources]]
name = "webfrontend"
command = "npm"
args = ["start"]
references = ["apiservice"]
wait_for = ["apiservice", "devproxy"]
external_endpoints = true

  [resources.env]
  HTTPS_PROXY = "{devproxy.http}"

  [[resources.endpoints]]
  name = "http"
  env = "PORT"

  [[resources.endpoints]]
  name = "https"
  env = "HTTPS_PORT"

  [resources.health]
  endpoint = "https"
  path = "/health"
  interval = "1s"
  timeout = "5s"
  failure_threshold = 30
`
