package ci

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/redhat-appstudio/tssc-test/internal/errkind"
	"github.com/redhat-appstudio/tssc-test/pkg/logging"
)

// Job administration: the harness provisions the component's folder and
// pipeline jobs before the first build can run.

const folderConfigXML = `<?xml version="1.0" encoding="UTF-8"?>
<com.cloudbees.hudson.plugins.folder.Folder>
  <description>TSSC e2e test folder</description>
</com.cloudbees.hudson.plugins.folder.Folder>`

// pipelineConfigXML is the job definition template; the single %s is the
// clone URL of the repository carrying the Jenkinsfile.
const pipelineConfigXML = `<?xml version="1.0" encoding="UTF-8"?>
<flow-definition plugin="workflow-job">
  <definition class="org.jenkinsci.plugins.workflow.cps.CpsScmFlowDefinition" plugin="workflow-cps">
    <scm class="hudson.plugins.git.GitSCM" plugin="git">
      <userRemoteConfigs>
        <hudson.plugins.git.UserRemoteConfig>
          <url>%s</url>
          <credentialsId>GITOPS_AUTH_PASSWORD</credentialsId>
        </hudson.plugins.git.UserRemoteConfig>
      </userRemoteConfigs>
      <branches>
        <hudson.plugins.git.BranchSpec>
          <name>*/main</name>
        </hudson.plugins.git.BranchSpec>
      </branches>
    </scm>
    <scriptPath>Jenkinsfile</scriptPath>
    <lightweight>true</lightweight>
  </definition>
  <disabled>false</disabled>
</flow-definition>`

func (j *Jenkins) postXML(ctx context.Context, url, payload, what string) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(payload))
	if err != nil {
		return errkind.Wrap(errkind.Unknown, err, "%s", what)
	}
	req.SetBasicAuth(j.username, j.token)
	req.Header.Set("Content-Type", "application/xml")

	resp, err := j.client.Do(req)
	if err != nil {
		return errkind.Wrap(errkind.TransientNetwork, err, "%s", what)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode == http.StatusBadRequest && strings.Contains(string(body), "already exists") {
		logging.Debug("ci", "Jenkins item already exists, skipping: %s", what)
		return nil
	}
	if resp.StatusCode >= 400 {
		return mapJenkinsStatus(resp.StatusCode, what)
	}
	return nil
}

// EnsureFolder creates the organization folder the component jobs live in.
// An existing folder is left untouched.
func (j *Jenkins) EnsureFolder(ctx context.Context) error {
	createURL := fmt.Sprintf("%s/createItem?name=%s&mode=com.cloudbees.hudson.plugins.folder.Folder",
		j.baseURL, url.QueryEscape(j.folder))
	return j.postXML(ctx, createURL, folderConfigXML, fmt.Sprintf("creating folder %s", j.folder))
}

// EnsureJob creates a pipeline job inside the folder, reading its
// Jenkinsfile from repoURL. An existing job is left untouched.
func (j *Jenkins) EnsureJob(ctx context.Context, jobName, repoURL string) error {
	createURL := fmt.Sprintf("%s/job/%s/createItem?name=%s",
		j.baseURL, url.PathEscape(j.folder), url.QueryEscape(jobName))
	payload := fmt.Sprintf(pipelineConfigXML, repoURL)
	return j.postXML(ctx, createURL, payload, fmt.Sprintf("creating job %s/%s", j.folder, jobName))
}

// TriggerBuild queues a build of the named job. Jenkins jobs created from
// XML have no webhook yet, so pushes during setup need a manual kick.
func (j *Jenkins) TriggerBuild(ctx context.Context, jobName string) error {
	buildURL := fmt.Sprintf("%s/job/%s/job/%s/build",
		j.baseURL, url.PathEscape(j.folder), url.PathEscape(jobName))
	return j.postXML(ctx, buildURL, "", fmt.Sprintf("triggering build of %s/%s", j.folder, jobName))
}
