package pipeline

// starter mirrors a classic front-end layout: sources under app/, build
// output under dist/, a PHP or static backend behind the preview.
const starter = `# assetflow pipeline
#
# Every transform reads the source on stdin and writes the result to stdout.
# Replace the commands with the tools installed in your project.

clean:
  - dist

tasks:
  - name: sass
    src: app/scss/*.scss
    dest: app/css
    ext: .css
    transform:
      kind: exec
      command: [sass, --stdin, --no-source-map]
      timeout: 30s
    reload: style

  - name: minify-css
    src: app/css/*.css
    dest: dist/css
    depends-on: [sass]
    transform:
      kind: exec
      command: [cleancss, -O1]
    reload: style

  - name: scripts
    src: app/scripts/**/*.js
    dest: dist/js/scripts.min.js
    bundle: true
    transform:
      - kind: exec
        command: [babel, --presets, "@babel/preset-env"]
      - kind: exec
        command: [uglifyjs, --compress, --mangle]

  - name: images
    src: "app/assets/**/*.{png,jpg,jpeg,gif,svg}"
    dest: dist/images
    cache: true
    transform:
      kind: exec
      command: [imagemin]

  - name: fonts
    src: app/css/fonts/**/*
    dest: dist/css/fonts

  - name: php
    src: app/**/*.php
    dest: dist

  - name: html
    src: app/*.html
    dest: dist
    transform:
      kind: exec
      command: [html-beautify, --indent-size, "2"]

watch:
  - name: styles
    src: app/scss/**/*.scss
    tasks: [sass]
  - name: scripts
    src: app/scripts/**/*.js
    tasks: [scripts]
  - name: images
    src: "app/assets/**/*.{png,jpg,jpeg,gif,svg}"
    tasks: [images]
  - name: pages
    src: [app/**/*.html, app/**/*.php]
    reload: full
`

// Starter returns a starter pipeline file.
func Starter() []byte {
	return []byte(starter)
}
