package service

import (
	"bytes"
	"fmt"
	"path/filepath"
	"runtime"
	"text/template"
)

const defaultServiceName = "provisionr"

const systemdUnitTemplate = `[Unit]
Description=Provisionr template provisioning service
After=network.target

[Service]
Type=simple
ExecStart={{.ExePath}} --config {{.ConfigPath}}
Restart=on-failure
RestartSec=5

[Install]
WantedBy=multi-user.target
`

const launchdPlistTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Label</key>
	<string>{{.Label}}</string>
	<key>ProgramArguments</key>
	<array>
		<string>{{.ExePath}}</string>
		<string>--config</string>
		<string>{{.ConfigPath}}</string>
	</array>
	<key>RunAtLoad</key>
	<true/>
	<key>KeepAlive</key>
	<true/>
</dict>
</plist>
`

type serviceTemplateData struct {
	Name       string
	ExePath    string
	ConfigPath string
	Label      string
}

// Install prints the service file and setup instructions for the
// current platform. It does not touch the system itself.
func Install(exePath, configPath string) error {
	absExePath, err := filepath.Abs(exePath)
	if err != nil {
		absExePath = exePath
	}
	absConfigPath, err := filepath.Abs(configPath)
	if err != nil {
		absConfigPath = configPath
	}

	switch runtime.GOOS {
	case "linux":
		return installLinux(absExePath, absConfigPath)
	case "darwin":
		return installDarwin(absExePath, absConfigPath)
	default:
		fmt.Printf("Service installation is not supported on %s.\n", runtime.GOOS)
		fmt.Println("Run the binary directly for foreground operation.")
		return nil
	}
}

func installLinux(exePath, configPath string) error {
	unit, err := renderTemplate(systemdUnitTemplate, serviceTemplateData{
		Name:       defaultServiceName,
		ExePath:    exePath,
		ConfigPath: configPath,
	})
	if err != nil {
		return err
	}

	unitPath := fmt.Sprintf("/etc/systemd/system/%s.service", defaultServiceName)
	fmt.Printf("Save the following unit file as %s:\n\n", unitPath)
	fmt.Println(unit)
	fmt.Println("Then enable and start the service:")
	fmt.Printf("  sudo systemctl daemon-reload\n")
	fmt.Printf("  sudo systemctl enable %s\n", defaultServiceName)
	fmt.Printf("  sudo systemctl start %s\n", defaultServiceName)
	return nil
}

func installDarwin(exePath, configPath string) error {
	label := "com." + defaultServiceName
	plist, err := renderTemplate(launchdPlistTemplate, serviceTemplateData{
		Name:       defaultServiceName,
		ExePath:    exePath,
		ConfigPath: configPath,
		Label:      label,
	})
	if err != nil {
		return err
	}

	plistPath := fmt.Sprintf("~/Library/LaunchAgents/%s.plist", label)
	fmt.Printf("Save the following plist as %s:\n\n", plistPath)
	fmt.Println(plist)
	fmt.Println("Then load the agent:")
	fmt.Printf("  launchctl load %s\n", plistPath)
	return nil
}

// Uninstall prints the removal instructions for the current platform.
func Uninstall() error {
	switch runtime.GOOS {
	case "linux":
		fmt.Println("To remove the service:")
		fmt.Printf("  sudo systemctl stop %s\n", defaultServiceName)
		fmt.Printf("  sudo systemctl disable %s\n", defaultServiceName)
		fmt.Printf("  sudo rm /etc/systemd/system/%s.service\n", defaultServiceName)
		fmt.Println("  sudo systemctl daemon-reload")
	case "darwin":
		label := "com." + defaultServiceName
		fmt.Println("To remove the agent:")
		fmt.Printf("  launchctl unload ~/Library/LaunchAgents/%s.plist\n", label)
		fmt.Printf("  rm ~/Library/LaunchAgents/%s.plist\n", label)
	default:
		fmt.Printf("Service installation is not supported on %s; nothing to remove.\n", runtime.GOOS)
	}
	return nil
}

func renderTemplate(text string, data serviceTemplateData) (string, error) {
	tmpl, err := template.New("service").Parse(text)
	if err != nil {
		return "", fmt.Errorf("failed to parse service template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render service template: %w", err)
	}
	return buf.String(), nil
}
